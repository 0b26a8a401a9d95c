package search

// Kind tells which library record a result points at.
type Kind string

const (
	KindMapping Kind = "mapping"
	KindHistory Kind = "history"
)

// Result is one library hit. Mapping hits carry CatalogID, Provider and
// ProviderID; history hits carry ID, the ledger record id.
type Result struct {
	Kind       Kind
	ID         string
	Title      string
	CatalogID  int
	Provider   string
	ProviderID string
	Score      float64
	Matches    []Match
}

// Match represents where text was found
type Match struct {
	Field  string
	Text   string
	Weight float64
}

// Searcher defines the minimal search API used by the CLI and the picker.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}
