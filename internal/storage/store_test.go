package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PutAndGetMapping(t *testing.T) {
	store := setupTestStore(t)

	internal := int64(77)
	m := &Mapping{
		CatalogID:          105398,
		Provider:           "mangadex",
		ProviderID:         "32d76d19-8a05-4db0-9fc2-e0b0648fe9d0",
		ProviderInternalID: &internal,
		Title:              "Solo Leveling",
		Status:             "completed",
		Rating:             8.9,
	}
	if err := store.PutMapping(m); err != nil {
		t.Fatalf("failed to put mapping: %v", err)
	}

	got, err := store.MappingByCatalog(105398, "mangadex")
	if err != nil {
		t.Fatalf("failed to get mapping: %v", err)
	}
	if got.ProviderID != m.ProviderID {
		t.Errorf("expected provider id %s, got %s", m.ProviderID, got.ProviderID)
	}
	if got.ProviderInternalID == nil || *got.ProviderInternalID != 77 {
		t.Errorf("expected internal id 77, got %v", got.ProviderInternalID)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	back, err := store.MappingByProvider(m.ProviderID, "mangadex")
	if err != nil {
		t.Fatalf("reverse lookup failed: %v", err)
	}
	if back.CatalogID != 105398 {
		t.Errorf("expected catalog id 105398, got %d", back.CatalogID)
	}
}

func TestStore_MappingNotFound(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.MappingByCatalog(1, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MappingByProvider("a", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PutMappingReplaces(t *testing.T) {
	store := setupTestStore(t)

	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X", ProviderID: "A", Title: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X", ProviderID: "B", Title: "second"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.MappingByCatalog(1, "X")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProviderID != "B" {
		t.Errorf("expected provider id B, got %s", got.ProviderID)
	}
	if _, err := store.MappingByProvider("A", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old provider id should be gone from reverse index, got %v", err)
	}

	all, err := store.MappingsForCatalog(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly one mapping, got %d", len(all))
	}
}

func TestStore_PutMappingIdempotent(t *testing.T) {
	store := setupTestStore(t)

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }
	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X", ProviderID: "A"}); err != nil {
		t.Fatal(err)
	}

	store.now = func() time.Time { return first.Add(time.Hour) }
	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X", ProviderID: "A", Title: "renamed"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.MappingByCatalog(1, "X")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CreatedAt.Equal(first) {
		t.Errorf("CreatedAt changed on idempotent put: %v", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(first.Add(time.Hour)) {
		t.Errorf("UpdatedAt not bumped: %v", got.UpdatedAt)
	}
	if got.Title != "renamed" {
		t.Errorf("expected display fields to update, got %q", got.Title)
	}
}

func TestStore_ReverseIndexAfterCatalogSwap(t *testing.T) {
	store := setupTestStore(t)

	// the same provider entry is relinked to a different catalog entry
	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X", ProviderID: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutMapping(&Mapping{CatalogID: 2, Provider: "X", ProviderID: "A"}); err != nil {
		t.Fatal(err)
	}
	// catalog 1 then moves on; the reverse row now owned by catalog 2 stays
	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X", ProviderID: "C"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.MappingByProvider("A", "X")
	if err != nil {
		t.Fatal(err)
	}
	if got.CatalogID != 2 {
		t.Errorf("expected reverse lookup to reach catalog 2, got %d", got.CatalogID)
	}
}

func TestStore_MappingsForCatalog(t *testing.T) {
	store := setupTestStore(t)

	for _, m := range []*Mapping{
		{CatalogID: 1, Provider: "site", ProviderID: "s"},
		{CatalogID: 1, Provider: "mangadex", ProviderID: "m"},
		{CatalogID: 12, Provider: "mangadex", ProviderID: "other"},
	} {
		if err := store.PutMapping(m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.MappingsForCatalog(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(got))
	}
	if got[0].Provider != "mangadex" || got[1].Provider != "site" {
		t.Errorf("expected mappings sorted by provider, got %s, %s", got[0].Provider, got[1].Provider)
	}

	all, err := store.AllMappings()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[2].CatalogID != 12 {
		t.Errorf("unexpected AllMappings result: %d entries", len(all))
	}
}

func TestStore_PutMappingValidates(t *testing.T) {
	store := setupTestStore(t)
	if err := store.PutMapping(&Mapping{CatalogID: 1, Provider: "X"}); err == nil {
		t.Error("expected error for mapping without provider id")
	}
}

func TestStore_HistoryAliases(t *testing.T) {
	store := setupTestStore(t)

	create := func() *HistoryItem { return &HistoryItem{Title: "Solo Leveling"} }
	item, err := store.UpdateHistory([]string{"series:abc", "title:solo leveling"}, create, func(h *HistoryItem) error {
		h.ReadChapters = []string{"c1"}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to create history: %v", err)
	}
	if item.ID == "" {
		t.Fatal("expected generated record id")
	}

	// a new id plus the old title resolves to the same record and binds the new id
	found, err := store.FindHistory([]string{"catalog:105398", "title:solo leveling"})
	if err != nil {
		t.Fatalf("title fallback failed: %v", err)
	}
	if found.ID != item.ID {
		t.Errorf("expected record %s, got %s", item.ID, found.ID)
	}

	byNewID, err := store.FindHistory([]string{"catalog:105398"})
	if err != nil {
		t.Fatalf("new alias was not registered: %v", err)
	}
	if byNewID.ID != item.ID {
		t.Errorf("expected record %s, got %s", item.ID, byNewID.ID)
	}

	if _, err := store.FindHistory([]string{"series:zzz"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_HistoryAliasNotStolen(t *testing.T) {
	store := setupTestStore(t)

	newItem := func(title string) func() *HistoryItem {
		return func() *HistoryItem { return &HistoryItem{Title: title} }
	}
	noop := func(*HistoryItem) error { return nil }

	a, err := store.UpdateHistory([]string{"series:a", "title:same"}, newItem("A"), noop)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.UpdateHistory([]string{"series:b"}, newItem("B"), noop)
	if err != nil {
		t.Fatal(err)
	}

	// resolving b while mentioning a's title must not rebind the title alias
	if _, err := store.FindHistory([]string{"series:b", "title:same"}); err != nil {
		t.Fatal(err)
	}
	got, err := store.FindHistory([]string{"title:same"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || got.ID == b.ID {
		t.Errorf("title alias moved to another record")
	}
}

func TestStore_UpdateHistoryWithoutCreate(t *testing.T) {
	store := setupTestStore(t)

	called := false
	_, err := store.UpdateHistory([]string{"series:none"}, nil, func(*HistoryItem) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if called {
		t.Error("mutation should not run for a missing record")
	}
}

func TestStore_UpdateHistoryRollsBack(t *testing.T) {
	store := setupTestStore(t)

	create := func() *HistoryItem { return &HistoryItem{Title: "x"} }
	_, err := store.UpdateHistory([]string{"series:x"}, create, func(*HistoryItem) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected mutation error")
	}
	if _, err := store.FindHistory([]string{"series:x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed update should leave nothing behind, got %v", err)
	}
}

func TestStore_AllAndClearHistory(t *testing.T) {
	store := setupTestStore(t)

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, alias := range []string{"series:old", "series:new"} {
		readAt := older.Add(time.Duration(i) * time.Hour)
		_, err := store.UpdateHistory([]string{alias}, func() *HistoryItem { return &HistoryItem{Title: alias} }, func(h *HistoryItem) error {
			h.LastReadAt = readAt
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	items, err := store.AllHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Title != "series:new" {
		t.Fatalf("expected newest first, got %+v", items)
	}

	if err := store.ClearHistory(); err != nil {
		t.Fatal(err)
	}
	items, err = store.AllHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(items))
	}
	if _, err := store.FindHistory([]string{"series:old"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("aliases should be cleared too, got %v", err)
	}
}

func TestStore_LookupHistoryDoesNotLink(t *testing.T) {
	store := setupTestStore(t)

	create := func() *HistoryItem { return &HistoryItem{Title: "Solo Leveling"} }
	item, err := store.UpdateHistory([]string{"title:solo leveling"}, create, func(*HistoryItem) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	found, err := store.LookupHistory([]string{"catalog:999", "title:solo leveling"})
	if err != nil {
		t.Fatalf("lookup by title failed: %v", err)
	}
	if found.ID != item.ID {
		t.Errorf("expected record %s, got %s", item.ID, found.ID)
	}

	if _, err := store.LookupHistory([]string{"catalog:999"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup must not register aliases, got %v", err)
	}
}

func TestStore_CorruptRecordsSurface(t *testing.T) {
	tests := []struct {
		name   string
		bucket []byte
		list   func(*Store) error
	}{
		{
			name:   "history",
			bucket: historyBucket,
			list: func(s *Store) error {
				_, err := s.AllHistory()
				return err
			},
		},
		{
			name:   "mappings",
			bucket: mappingsBucket,
			list: func(s *Store) error {
				_, err := s.AllMappings()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			err := store.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(tt.bucket).Put([]byte("bad"), []byte("{"))
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := tt.list(store); err == nil {
				t.Error("expected a decoding error for a corrupt record")
			}
		})
	}
}
