package search

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pders01/crossread/internal/storage"
)

const minQueryLen = 2

// Engine scans the library directly without an index. It is the fallback
// when no index path is configured.
type Engine struct {
	store *storage.Store
}

// NewEngine creates a new search engine
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// Search scores every mapping and history record against query.
func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < minQueryLen {
		return []*Result{}, nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	mappings, err := e.store.AllMappings()
	if err != nil {
		return nil, err
	}
	items, err := e.store.AllHistory()
	if err != nil {
		return nil, err
	}

	results := []*Result{}
	for _, m := range mappings {
		if r := searchMapping(m, terms); r != nil {
			results = append(results, r)
		}
	}
	for _, item := range items {
		if r := searchHistory(item, terms); r != nil {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func searchMapping(m *storage.Mapping, terms []string) *Result {
	var matches []Match
	var total float64

	if s := scoreField(m.Title, terms, 4.0); s > 0 {
		matches = append(matches, Match{Field: "title", Text: m.Title, Weight: s})
		total += s
	}
	if s := scoreField(m.ProviderID, terms, 0.5); s > 0 {
		matches = append(matches, Match{Field: "provider_id", Text: truncate(m.ProviderID, 80), Weight: s})
		total += s
	}
	if total == 0 {
		return nil
	}
	return &Result{
		Kind:       KindMapping,
		ID:         mappingDocID(m),
		Title:      m.Title,
		CatalogID:  m.CatalogID,
		Provider:   m.Provider,
		ProviderID: m.ProviderID,
		Score:      total,
		Matches:    matches,
	}
}

func searchHistory(item *storage.HistoryItem, terms []string) *Result {
	var matches []Match
	var total float64

	if s := scoreField(item.Title, terms, 3.0); s > 0 {
		matches = append(matches, Match{Field: "title", Text: item.Title, Weight: s})
		total += s
	}
	if s := scoreField(item.LastChapterTitle, terms, 1.0); s > 0 {
		matches = append(matches, Match{Field: "chapter", Text: truncate(item.LastChapterTitle, 100), Weight: s})
		total += s
	}
	if total == 0 {
		return nil
	}
	return &Result{
		Kind:       KindHistory,
		ID:         item.ID,
		Title:      item.Title,
		CatalogID:  item.CatalogID,
		Provider:   item.Provider,
		ProviderID: item.ProviderSeriesID,
		Score:      total,
		Matches:    matches,
	}
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}
		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	// Boost score if multiple terms match
	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// tokenize breaks text into lower-case searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-1] + "…"
}

func mappingDocID(m *storage.Mapping) string {
	return "mapping:" + strconv.Itoa(m.CatalogID) + "|" + m.Provider
}

func historyDocID(id string) string { return "history:" + id }
