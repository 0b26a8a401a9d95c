package history

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pders01/crossread/internal/provider"
)

var chapterNumber = regexp.MustCompile(`\d+(\.\d+)?`)

// ParseChapterNumber reads the first number in a free-text chapter label
// ("Ch. 12.5 - Extra" → 12.5).
func ParseChapterNumber(s string) (float64, bool) {
	m := chapterNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func inRange(chapters []provider.Chapter, from, to float64) []provider.Chapter {
	if from > to {
		from, to = to, from
	}
	var out []provider.Chapter
	for _, ch := range chapters {
		if n, ok := ParseChapterNumber(ch.Number); ok && n >= from && n <= to {
			out = append(out, ch)
		}
	}
	return out
}

func upTo(chapters []provider.Chapter, targetID string) ([]provider.Chapter, error) {
	idx := -1
	for i, ch := range chapters {
		if ch.ID == targetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChapter, targetID)
	}

	if n, ok := ParseChapterNumber(chapters[idx].Number); ok {
		return inRange(chapters, 0, n), nil
	}

	if ascending(chapters) {
		return append([]provider.Chapter(nil), chapters[:idx+1]...), nil
	}
	return append([]provider.Chapter(nil), chapters[idx:]...), nil
}

// ascending compares the first and last parsable numbers. Lists without two
// comparable numbers are treated as newest-first, the usual provider order.
func ascending(chapters []provider.Chapter) bool {
	first, last := -1.0, -1.0
	seen := 0
	for _, ch := range chapters {
		n, ok := ParseChapterNumber(ch.Number)
		if !ok {
			continue
		}
		if seen == 0 {
			first = n
		}
		last = n
		seen++
	}
	return seen >= 2 && first < last
}

func highest(chapters []provider.Chapter) (provider.Chapter, bool) {
	var best provider.Chapter
	bestN, found := 0.0, false
	for _, ch := range chapters {
		if n, ok := ParseChapterNumber(ch.Number); ok && (!found || n > bestN) {
			best, bestN, found = ch, n, true
		}
	}
	return best, found
}
