package title

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Source identifies which title field a search term came from.
type Source string

const (
	SourceEnglish      Source = "english"
	SourceTitle        Source = "title"
	SourceRomaji       Source = "romaji"
	SourceNative       Source = "native"
	SourceSynonym      Source = "synonym"
	SourceSynonymPlain Source = "synonym_plain"
)

// TitleSet is the set of title variants a catalog entry carries.
type TitleSet struct {
	English  string
	Title    string
	Romaji   string
	Native   string
	Synonyms []string
}

// All returns every non-empty variant, primary titles first.
func (ts TitleSet) All() []string {
	out := make([]string, 0, 4+len(ts.Synonyms))
	for _, s := range []string{ts.Title, ts.English, ts.Romaji, ts.Native} {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	for _, s := range ts.Synonyms {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Term is a ranked provider search string.
type Term struct {
	Text   string
	Key    string
	Source Source
	Score  float64
}

// TermParams holds the tunable weights of the term-quality score.
type TermParams struct {
	ASCIIWeight  float64
	LengthWeight float64
	DigitBonus   float64
	MaxTerms     int
	Bias         map[Source]float64
}

// DefaultTermParams returns the weights the resolver ships with.
func DefaultTermParams() TermParams {
	return TermParams{
		ASCIIWeight:  0.6,
		LengthWeight: 0.35,
		DigitBonus:   0.05,
		MaxTerms:     8,
		Bias:         DefaultBias(),
	}
}

// DefaultBias favours explicit synonyms, then english/primary titles, and
// puts native script last.
func DefaultBias() map[Source]float64 {
	return map[Source]float64{
		SourceSynonym:      0.30,
		SourceSynonymPlain: 0.28,
		SourceEnglish:      0.25,
		SourceTitle:        0.25,
		SourceRomaji:       0.15,
		SourceNative:       0,
	}
}

var depunctuate = strings.NewReplacer(",", " ", ":", " ")

// BuildSearchTerms derives an ordered, de-duplicated list of provider search
// strings from the title variants of a catalog entry.
func BuildSearchTerms(ts TitleSet, params TermParams) []Term {
	type candidate struct {
		text   string
		source Source
	}

	cands := []candidate{
		{ts.English, SourceEnglish},
		{ts.Title, SourceTitle},
		{ts.Romaji, SourceRomaji},
		{ts.Native, SourceNative},
	}
	for _, syn := range ts.Synonyms {
		cands = append(cands, candidate{syn, SourceSynonym})
		plain := strings.Join(strings.Fields(depunctuate.Replace(syn)), " ")
		if plain != strings.TrimSpace(syn) {
			cands = append(cands, candidate{plain, SourceSynonymPlain})
		}
	}

	best := make(map[string]int)
	terms := make([]Term, 0, len(cands))
	for _, c := range cands {
		text := strings.TrimSpace(c.text)
		if text == "" {
			continue
		}
		key := Normalize(text)
		score := params.Bias[c.source] + termQuality(text, params)
		if idx, ok := best[key]; ok {
			if score > terms[idx].Score {
				terms[idx] = Term{Text: text, Key: key, Source: c.source, Score: score}
			}
			continue
		}
		best[key] = len(terms)
		terms = append(terms, Term{Text: text, Key: key, Source: c.source, Score: score})
	}

	sort.SliceStable(terms, func(i, j int) bool {
		return terms[i].Score > terms[j].Score
	})

	if params.MaxTerms > 0 && len(terms) > params.MaxTerms {
		terms = terms[:params.MaxTerms]
	}
	return terms
}

// Texts returns the search strings of terms in order.
func Texts(terms []Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Text
	}
	return out
}

func termQuality(s string, params TermParams) float64 {
	q := params.ASCIIWeight*asciiRatio(s) + params.LengthWeight*lengthScore(utf8.RuneCountInString(s))
	if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
		q += params.DigitBonus
	}
	return q
}

func asciiRatio(s string) float64 {
	total, ascii := 0, 0
	for _, r := range s {
		total++
		if r < utf8.RuneSelf {
			ascii++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ascii) / float64(total)
}

// lengthScore peaks for 6..40 runes and decays linearly outside that band.
func lengthScore(n int) float64 {
	switch {
	case n <= 0:
		return 0
	case n < 6:
		return float64(n) / 6
	case n <= 40:
		return 1
	default:
		s := 1 - float64(n-40)/40
		if s < 0 {
			return 0
		}
		return s
	}
}
