package resolve

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/history"
	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/searchcache"
	"github.com/pders01/crossread/internal/storage"
)

type fakeProvider struct {
	name    string
	mu      sync.Mutex
	results []provider.Entry
	delay   time.Duration
	calls   atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) set(results ...provider.Entry) {
	p.mu.Lock()
	p.results = results
	p.mu.Unlock()
}

// Search answers every query with the configured entries. A delay simulates
// a transport timeout.
func (p *fakeProvider) Search(ctx context.Context, _ string, _ int) ([]provider.Entry, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		ctx, cancel := context.WithTimeout(ctx, p.delay)
		defer cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Entry(nil), p.results...), nil
}

func (p *fakeProvider) Details(_ context.Context, id string) (*provider.Entry, error) {
	return &provider.Entry{Provider: p.name, ID: id, Chapters: []provider.Chapter{
		{ID: id + "-3", Number: "3"}, {ID: id + "-2", Number: "2"}, {ID: id + "-1", Number: "1"},
	}}, nil
}

type fixture struct {
	resolver *Resolver
	store    *storage.Store
	catalog  *catalog.Memory
	registry *provider.Registry
	cache    *searchcache.Cache
}

func newFixture(t *testing.T, cache *searchcache.Cache, providers ...provider.Provider) *fixture {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "crossread.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := provider.NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}
	if cache == nil {
		cache = searchcache.New(time.Minute)
	}
	source := catalog.NewMemory(solo)
	engine := reconcile.New(store, history.New(store), source, registry)
	r := New(Deps{Store: store, Catalog: source, Providers: registry, Cache: cache, Engine: engine})
	t.Cleanup(r.Wait)
	return &fixture{resolver: r, store: store, catalog: source, registry: registry, cache: cache}
}

var solo = catalog.Entry{ID: 105398, Title: "Solo Leveling", English: "Solo Leveling"}

func e(prov, id, title string) provider.Entry {
	return provider.Entry{Provider: prov, ID: id, Title: title}
}

func stateOf(res *Resolution, name string) orchestrator.Status {
	for _, p := range res.Providers {
		if p.Name == name {
			return p.Status
		}
	}
	return ""
}

func TestThreeProviderScenario(t *testing.T) {
	a := &fakeProvider{name: "a", results: []provider.Entry{e("a", "a-1", "Solo Leveling")}}
	b := &fakeProvider{name: "b", delay: 20 * time.Millisecond}
	c := &fakeProvider{name: "c", results: []provider.Entry{
		e("c", "c-1", "Solo Leveling"),
		e("c", "c-2", "Solo Leveling."),
	}}
	f := newFixture(t, nil, a, b, c)

	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StatusSuccess, stateOf(res, "a"))
	assert.Equal(t, orchestrator.StatusFailed, stateOf(res, "b"))
	assert.Equal(t, orchestrator.StatusSuccess, stateOf(res, "c"))

	ids := map[string]bool{}
	for _, r := range res.Results {
		ids[r.Entry.Provider+"/"+r.Entry.ID] = true
	}
	assert.Equal(t, map[string]bool{"a/a-1": true, "c/c-1": true, "c/c-2": true}, ids)

	assert.Equal(t, StatusAmbiguous, res.Status)
	assert.Nil(t, res.Mapping)
	require.Len(t, res.Candidates, 3)
	assert.Less(t, res.Candidates[0].Score-res.Candidates[1].Score, 0.12)

	_, err = f.store.MappingByCatalog(solo.ID, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConfidentMatchIsLinked(t *testing.T) {
	a := &fakeProvider{name: "a", results: []provider.Entry{
		e("a", "a-1", "Solo Leveling"),
		e("a", "a-2", "Leveling Solo Hunter"),
	}}
	f := newFixture(t, nil, a)

	var updates atomic.Int32
	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{
		OnUpdate: func(orchestrator.Snapshot) { updates.Add(1) },
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMapped, res.Status)
	assert.False(t, res.Pending())
	require.NotNil(t, res.Mapping)
	assert.Equal(t, "a-1", res.Mapping.ProviderID)
	assert.Positive(t, updates.Load())

	// a second resolve is answered by the stored mapping
	calls := a.calls.Load()
	again, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusMapped, again.Status)
	assert.Equal(t, "a-1", again.Mapping.ProviderID)
	assert.Equal(t, calls, a.calls.Load())
}

func TestConflictWaitsForPolicy(t *testing.T) {
	a := &fakeProvider{name: "a", results: []provider.Entry{e("a", "a-1", "Solo Leveling")}}
	f := newFixture(t, nil, a)

	progress := 2
	entry := solo
	entry.Progress = &progress

	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), entry, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusMapped, res.Status)
	require.True(t, res.Pending())

	_, err = f.store.MappingByCatalog(solo.ID, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing saved before a policy is chosen")

	out, err := f.resolver.ApplyReconcile(context.Background(), res.Reconcile, reconcile.PolicyCatalog)
	require.NoError(t, err)
	require.NoError(t, out.ProgressErr)
	assert.Equal(t, []string{"a-1-1", "a-1-2"}, out.ReadChapters)

	m, err := f.store.MappingByCatalog(solo.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "a-1", m.ProviderID)
}

func TestNoCandidates(t *testing.T) {
	a := &fakeProvider{name: "a"}
	f := newFixture(t, nil, a)

	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNone, res.Status)
	assert.Empty(t, res.Candidates)
}

func TestUnknownProviderOption(t *testing.T) {
	f := newFixture(t, nil, &fakeProvider{name: "a"})
	_, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{Providers: []string{"nope"}})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestManualChoiceReplacesMapping(t *testing.T) {
	c := &fakeProvider{name: "c", results: []provider.Entry{
		e("c", "c-1", "Solo Leveling"),
		e("c", "c-2", "Solo Leveling"),
	}}
	f := newFixture(t, nil, c)

	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{})
	require.NoError(t, err)
	require.Equal(t, StatusAmbiguous, res.Status)

	rc, err := f.resolver.Choose(context.Background(), res, 0)
	require.NoError(t, err)
	assert.Nil(t, rc, "no progress on either side")
	m, err := f.store.MappingByCatalog(solo.ID, "c")
	require.NoError(t, err)
	assert.Equal(t, "c-1", m.ProviderID)

	rc, err = f.resolver.Choose(context.Background(), res, 1)
	require.NoError(t, err)
	assert.Nil(t, rc)
	m, err = f.store.MappingByCatalog(solo.ID, "c")
	require.NoError(t, err)
	assert.Equal(t, "c-2", m.ProviderID)

	_, err = f.store.MappingByProvider("c-1", "c")
	assert.ErrorIs(t, err, storage.ErrNotFound, "replaced provider id is not retained")

	_, err = f.resolver.Choose(context.Background(), res, 5)
	assert.Error(t, err)
}

func TestFreshCacheSkipsProviders(t *testing.T) {
	a := &fakeProvider{name: "a", results: []provider.Entry{e("a", "a-1", "Solo Leveling")}}
	cache := searchcache.New(time.Hour)
	f := newFixture(t, cache, a)

	_, err := cache.Refresh(context.Background(), "Solo Leveling", a, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), a.calls.Load())

	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusMapped, res.Status)
	f.resolver.Wait()
	assert.Equal(t, int32(1), a.calls.Load())
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStaleCacheRevalidatesInBackground(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	cache := searchcache.New(time.Minute, searchcache.WithClock(clk.Now))

	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b", results: []provider.Entry{
		e("b", "b-1", "Leveling Solo Hunter"),
		e("b", "b-2", "Solo Hunter Leveling"),
	}}
	f := newFixture(t, cache, a, b)

	for _, p := range []provider.Provider{a, b} {
		_, err := cache.Refresh(context.Background(), "Solo Leveling", p, 1)
		require.NoError(t, err)
	}
	clk.Advance(2 * time.Minute)
	a.set(e("a", "a-1", "Solo Leveling"))

	revalidated := make(chan *Resolution, 1)
	res, err := f.resolver.ResolveForCatalogEntry(context.Background(), solo, Options{
		OnRevalidated: func(r *Resolution) { revalidated <- r },
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, res.Status, "stale pages answer first")
	assert.Len(t, res.Results, 2)

	select {
	case got := <-revalidated:
		assert.Equal(t, StatusMapped, got.Status)
		require.NotNil(t, got.Mapping)
		assert.Equal(t, "a-1", got.Mapping.ProviderID)
	case <-time.After(2 * time.Second):
		t.Fatal("no revalidated resolution")
	}

	fresh, ok := cache.Peek("Solo Leveling", "a", 1)
	require.True(t, ok)
	assert.False(t, fresh.Stale)
}

func TestResolveForProviderEntry(t *testing.T) {
	f := newFixture(t, nil, &fakeProvider{name: "a"})
	f.catalog.Put(catalog.Entry{ID: 7, Title: "Na Honjaman Level Up", English: "Solo Leveling"})
	f.catalog.Put(catalog.Entry{ID: 8, Title: "Solo Leveling: Ragnarok"})

	// 105398 and 7 both carry an exact variant
	res, err := f.resolver.ResolveForProviderEntry(context.Background(), "a", e("a", "a-1", "Solo Leveling"))
	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, res.Status)
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, 1.0, res.Candidates[0].Score)
	assert.Equal(t, 1.0, res.Candidates[1].Score)
	assert.Equal(t, CatalogCandidate, res.Candidates[0].Provider)

	rc, err := f.resolver.Choose(context.Background(), res, 1)
	require.NoError(t, err)
	assert.Nil(t, rc)

	mapped, err := f.resolver.ResolveForProviderEntry(context.Background(), "a", e("a", "a-1", "whatever"))
	require.NoError(t, err)
	assert.Equal(t, StatusMapped, mapped.Status)
	assert.Equal(t, "a-1", mapped.Mapping.ProviderID)
}

func TestResolveForProviderEntryAutoLinks(t *testing.T) {
	f := newFixture(t, nil, &fakeProvider{name: "a"})

	res, err := f.resolver.ResolveForProviderEntry(context.Background(), "a", e("a", "a-9", "solo leveling"))
	require.NoError(t, err)
	assert.Equal(t, StatusMapped, res.Status)
	assert.Equal(t, solo.ID, res.Mapping.CatalogID)
}

func TestResolveForProviderEntryCatalogError(t *testing.T) {
	f := newFixture(t, nil, &fakeProvider{name: "a"})
	f.catalog.FailSearch = errors.New("catalog down")

	_, err := f.resolver.ResolveForProviderEntry(context.Background(), "a", e("a", "a-1", "Solo Leveling"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog down")
}
