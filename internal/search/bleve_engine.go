package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/storage"
)

// BleveEngine keeps a full-text index of mapped series and reading history.
// It implements reconcile.MappingListener so new links show up right away.
type BleveEngine struct {
	store *storage.Store
	idx   bleve.Index
	log   *debuglog.FieldLogger
}

// NewBleveEngine creates or opens a Bleve index at indexPath and indexes current data.
func NewBleveEngine(store *storage.Store, indexPath string) (*BleveEngine, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	idx, err := bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index: %w", err)
		}
	}

	be := &BleveEngine{store: store, idx: idx, log: debuglog.Component("search")}
	if err := be.Reindex(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return be, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	chapter := bleve.NewTextFieldMapping()
	chapter.Analyzer = standard.Name
	chapter.Store = false

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	exact.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("chapter", chapter)
	dm.AddFieldMappingsAt("kind", exact)
	dm.AddFieldMappingsAt("provider", exact)
	dm.AddFieldMappingsAt("provider_id", exact)
	dm.AddFieldMappingsAt("catalog_id", exact)
	dm.AddFieldMappingsAt("record_id", exact)

	im.DefaultMapping = dm
	return im
}

// Reindex rebuilds every document from the store.
func (b *BleveEngine) Reindex() error {
	mappings, err := b.store.AllMappings()
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}
	items, err := b.store.AllHistory()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	batch := b.idx.NewBatch()
	for _, m := range mappings {
		if err := batch.Index(mappingDocID(m), mappingDoc(m)); err != nil {
			return err
		}
	}
	for _, item := range items {
		if err := batch.Index(historyDocID(item.ID), historyDoc(item)); err != nil {
			return err
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("indexing library: %w", err)
	}
	b.log.Debugf("indexed %d mappings and %d history records", len(mappings), len(items))
	return nil
}

func mappingDoc(m *storage.Mapping) map[string]any {
	return map[string]any{
		"kind":        string(KindMapping),
		"title":       m.Title,
		"provider":    m.Provider,
		"provider_id": m.ProviderID,
		"catalog_id":  strconv.Itoa(m.CatalogID),
	}
}

func historyDoc(item *storage.HistoryItem) map[string]any {
	doc := map[string]any{
		"kind":        string(KindHistory),
		"record_id":   item.ID,
		"title":       item.Title,
		"chapter":     item.LastChapterTitle,
		"provider":    item.Provider,
		"provider_id": item.ProviderSeriesID,
	}
	if item.CatalogID != 0 {
		doc["catalog_id"] = strconv.Itoa(item.CatalogID)
	}
	return doc
}

func (b *BleveEngine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < minQueryLen {
		return []*Result{}, nil
	}
	// Tokenize input and build an OR of per-term matches with boosts
	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		qt := bleve.NewMatchQuery(tok)
		qt.SetField("title")
		qt.SetBoost(4.0)
		qs = append(qs, qt)
		qtp := bleve.NewPrefixQuery(tok)
		qtp.SetField("title")
		qtp.SetBoost(3.5)
		qs = append(qs, qtp)
		qc := bleve.NewMatchQuery(tok)
		qc.SetField("chapter")
		qc.SetBoost(1.0)
		qs = append(qs, qc)
	}
	// ids are matched verbatim
	qid := bleve.NewTermQuery(strings.TrimSpace(query))
	qid.SetField("provider_id")
	qid.SetBoost(5.0)
	qs = append(qs, qid)

	if limit <= 0 {
		limit = 20
	}
	srch := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	srch.Fields = []string{"kind", "title", "provider", "provider_id", "catalog_id", "record_id"}
	res, err := b.idx.Search(srch)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		r := &Result{Score: h.Score, ID: h.ID}
		if k, ok := h.Fields["kind"].(string); ok {
			r.Kind = Kind(k)
		}
		if t, ok := h.Fields["title"].(string); ok {
			r.Title = t
			r.Matches = append(r.Matches, Match{Field: "title", Text: t, Weight: h.Score})
		}
		if p, ok := h.Fields["provider"].(string); ok {
			r.Provider = p
		}
		if p, ok := h.Fields["provider_id"].(string); ok {
			r.ProviderID = p
		}
		if c, ok := h.Fields["catalog_id"].(string); ok {
			r.CatalogID, _ = strconv.Atoi(c)
		}
		if id, ok := h.Fields["record_id"].(string); ok && r.Kind == KindHistory {
			r.ID = id
		}
		out = append(out, r)
	}
	return out, nil
}

// MappingSaved indexes a new or replaced mapping.
func (b *BleveEngine) MappingSaved(m *storage.Mapping) {
	if err := b.idx.Index(mappingDocID(m), mappingDoc(m)); err != nil {
		b.log.Warnf("indexing mapping %d/%s: %v", m.CatalogID, m.Provider, err)
	}
}

// HistoryUpdated indexes a ledger record after it changed.
func (b *BleveEngine) HistoryUpdated(item *storage.HistoryItem) {
	if item == nil {
		return
	}
	if err := b.idx.Index(historyDocID(item.ID), historyDoc(item)); err != nil {
		b.log.Warnf("indexing history %s: %v", item.ID, err)
	}
}

// HistoryCleared drops every history document.
func (b *BleveEngine) HistoryCleared() {
	tq := bleve.NewTermQuery(string(KindHistory))
	tq.SetField("kind")

	size := 1000
	for {
		req := bleve.NewSearchRequestOptions(tq, size, 0, false)
		res, err := b.idx.Search(req)
		if err != nil || res == nil || len(res.Hits) == 0 {
			return
		}
		batch := b.idx.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := b.idx.Batch(batch); err != nil {
			b.log.Warnf("dropping history documents: %v", err)
			return
		}
		if len(res.Hits) < size {
			return
		}
	}
}

// DocCount reports total documents in the index.
func (b *BleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

func (b *BleveEngine) Close() error {
	return b.idx.Close()
}
