package title

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a title or query for comparison and cache keys.
// Letters and digits are kept (lowercased), every other run collapses to a
// single space. Strings without any letter or digit fall back to a
// lowercased, trimmed copy of the input.
func Normalize(s string) string {
	folded := strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(folded))

	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}

	if b.Len() == 0 {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return b.String()
}

// tokens splits an already normalized string into words.
func tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// compact drops the spaces of a normalized string so "solo leveling" and
// "sololeveling" line up.
func compact(normalized string) string {
	return strings.ReplaceAll(normalized, " ", "")
}
