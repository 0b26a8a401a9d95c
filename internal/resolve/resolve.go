package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/config"
	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/searchcache"
	"github.com/pders01/crossread/internal/storage"
	"github.com/pders01/crossread/internal/title"
)

// CatalogCandidate is the provider name used for catalog-side candidates.
const CatalogCandidate = "catalog"

type Status string

const (
	StatusMapped    Status = "mapped"
	StatusAmbiguous Status = "ambiguous"
	StatusNone      Status = "none"
)

// Resolution is what the UI gets back from a resolve call. A mapped
// resolution with a non-nil Reconcile still waits for a policy before the
// mapping is saved.
type Resolution struct {
	Status     Status
	Mapping    *storage.Mapping
	Candidates []title.Candidate
	Results    []orchestrator.Result
	Catalog    []catalog.Entry
	Providers  []orchestrator.ProviderState
	Query      string
	Reconcile  *reconcile.Context

	CatalogEntry  *catalog.Entry
	ProviderName  string
	ProviderEntry *provider.Entry
}

// Pending reports whether a confident match still needs a policy choice.
func (r *Resolution) Pending() bool { return r.Reconcile != nil }

// Options tune one resolve call.
type Options struct {
	// Providers restricts the search; empty means every registered provider.
	Providers []string
	Page      int
	// OnUpdate sees every partial orchestrator state.
	OnUpdate func(orchestrator.Snapshot)
	// OnRevalidated receives a new resolution when refreshing stale cache
	// pages turns an unresolved ranking into a confident one.
	OnRevalidated func(*Resolution)
}

type Deps struct {
	Store     *storage.Store
	Catalog   catalog.Source
	Providers *provider.Registry
	Cache     *searchcache.Cache
	Engine    *reconcile.Engine
}

type Option func(*Resolver)

func WithMatchParams(p title.MatchParams) Option {
	return func(r *Resolver) { r.match = p }
}

func WithTermParams(p title.TermParams) Option {
	return func(r *Resolver) { r.terms = p }
}

// WithMatching applies the [matching] config section.
func WithMatching(cfg config.MatchingConfig) Option {
	return func(r *Resolver) {
		r.match = title.MatchParams{AutoSelectScore: cfg.AutoSelectScore, AutoSelectGap: cfg.AutoSelectGap}
		r.terms.MaxTerms = cfg.MaxTerms
		r.terms.ASCIIWeight = cfg.ASCIIWeight
		r.terms.LengthWeight = cfg.LengthWeight
		r.terms.DigitBonus = cfg.DigitBonus
	}
}

// Resolver links catalog entries and provider entries. It owns one
// orchestrator, so a newer resolve call supersedes an older one.
type Resolver struct {
	store     *storage.Store
	catalog   catalog.Source
	providers *provider.Registry
	cache     *searchcache.Cache
	engine    *reconcile.Engine
	orch      *orchestrator.Orchestrator
	match     title.MatchParams
	terms     title.TermParams
	log       *debuglog.FieldLogger

	mu       sync.Mutex
	onUpdate func(orchestrator.Snapshot)

	background sync.WaitGroup
}

func New(deps Deps, opts ...Option) *Resolver {
	r := &Resolver{
		store:     deps.Store,
		catalog:   deps.Catalog,
		providers: deps.Providers,
		cache:     deps.Cache,
		engine:    deps.Engine,
		match:     title.DefaultMatchParams(),
		terms:     title.DefaultTermParams(),
		log:       debuglog.Component("resolve"),
	}
	if r.cache == nil {
		r.cache = searchcache.New(searchcache.DefaultTTL)
	}
	if r.providers == nil {
		r.providers = provider.NewRegistry()
	}
	for _, opt := range opts {
		opt(r)
	}
	r.orch = orchestrator.New(r.cache, orchestrator.WithOnUpdate(r.forward))
	return r
}

func (r *Resolver) forward(s orchestrator.Snapshot) {
	r.mu.Lock()
	fn := r.onUpdate
	r.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Wait blocks until background revalidation and prefetching are done.
func (r *Resolver) Wait() {
	r.background.Wait()
	r.cache.Wait()
}

// ResolveForCatalogEntry finds the provider entry for a catalog entry. An
// existing mapping wins; otherwise search terms are tried in order until one
// yields candidates, and a confident top candidate is linked through the
// reconcile engine.
func (r *Resolver) ResolveForCatalogEntry(ctx context.Context, entry catalog.Entry, opts Options) (*Resolution, error) {
	providers, err := r.providers.Select(opts.Providers)
	if err != nil {
		return nil, err
	}
	log := r.log.With("catalog", entry.ID)

	existing, err := r.existingMapping(entry.ID, providers)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debugf("already mapped to %s on %s", existing.ProviderID, existing.Provider)
		return &Resolution{Status: StatusMapped, Mapping: existing, CatalogEntry: &entry}, nil
	}

	terms := title.BuildSearchTerms(entry.TitleSet(), r.terms)
	if len(terms) == 0 || len(providers) == 0 {
		return &Resolution{Status: StatusNone, CatalogEntry: &entry}, nil
	}
	refs := entry.TitleSet().All()

	r.mu.Lock()
	r.onUpdate = opts.OnUpdate
	r.mu.Unlock()

	var (
		run   *orchestrator.Run
		snap  orchestrator.Snapshot
		stale []provider.Provider
		used  int
	)
	for i, term := range terms {
		seeds, staleHere := r.seeds(term.Text, providers, opts.Page)
		run = r.orch.Search(ctx, orchestrator.Request{
			Query:      term.Text,
			Page:       opts.Page,
			References: refs,
			Providers:  providers,
			Seeds:      seeds,
		})
		snap = run.Wait()
		if snap.Superseded {
			return nil, orchestrator.ErrSuperseded
		}
		used, stale = i, staleHere
		if len(snap.Results) > 0 {
			break
		}
		for _, p := range staleHere {
			r.cache.Prefetch(ctx, []string{term.Text}, p)
		}
		log.Debugf("term %q found nothing", term.Text)
	}

	if rest := title.Texts(terms[used+1:]); len(rest) > 0 {
		for _, p := range providers {
			r.cache.Prefetch(ctx, rest, p)
		}
	}

	res, err := r.fromSnapshot(ctx, entry, snap)
	if err != nil {
		return nil, err
	}
	if len(snap.Results) > 0 && len(stale) > 0 {
		r.revalidate(ctx, entry, run, stale, res.Status, opts.OnRevalidated)
	}
	return res, nil
}

// seeds returns cached pages for query. Stale pages are used as seeds too
// and reported so they can be refreshed in the background.
func (r *Resolver) seeds(query string, providers []provider.Provider, page int) (map[string][]provider.Entry, []provider.Provider) {
	seeds := make(map[string][]provider.Entry)
	var stale []provider.Provider
	for _, p := range providers {
		e, ok := r.cache.Peek(query, p.Name(), page)
		if !ok {
			continue
		}
		seeds[p.Name()] = e.Results
		if e.Stale {
			stale = append(stale, p)
		}
	}
	return seeds, stale
}

func (r *Resolver) revalidate(ctx context.Context, entry catalog.Entry, run *orchestrator.Run, stale []provider.Provider, prior Status, notify func(*Resolution)) {
	bg := context.WithoutCancel(ctx)
	log := r.log.With("catalog", entry.ID).With("generation", run.Generation())

	r.background.Add(1)
	go func() {
		defer r.background.Done()

		var g errgroup.Group
		for _, p := range stale {
			g.Go(func() error {
				if _, err := run.Refresh(bg, p); err != nil {
					log.With("provider", p.Name()).Debugf("revalidation failed: %v", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		if notify == nil || prior == StatusMapped {
			return
		}
		snap := r.orch.Snapshot()
		if snap.Generation != run.Generation() {
			return
		}
		if _, ok := title.AutoSelect(snap.Candidates(), r.match); !ok {
			return
		}
		res, err := r.fromSnapshot(bg, entry, snap)
		if err != nil {
			log.Warnf("linking after revalidation: %v", err)
			return
		}
		log.Infof("revalidation made the match confident")
		notify(res)
	}()
}

func (r *Resolver) fromSnapshot(ctx context.Context, entry catalog.Entry, snap orchestrator.Snapshot) (*Resolution, error) {
	res := &Resolution{
		Query:        snap.Query,
		Providers:    snap.Providers,
		Results:      snap.Results,
		Candidates:   snap.Candidates(),
		CatalogEntry: &entry,
	}
	if len(res.Candidates) == 0 {
		res.Status = StatusNone
		return res, nil
	}
	best, ok := title.AutoSelect(res.Candidates, r.match)
	if !ok {
		res.Status = StatusAmbiguous
		return res, nil
	}

	chosen, ok := findResult(snap.Results, best.Provider, best.ID)
	if !ok {
		return nil, fmt.Errorf("candidate %s/%s vanished from results", best.Provider, best.ID)
	}
	if err := r.link(ctx, res, reconcile.Request{
		Kind:     reconcile.SwapProvider,
		Screen:   &entry,
		Provider: chosen.Provider,
		Entry:    chosen,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// ResolveForProviderEntry finds the catalog entry for a provider entry: the
// reverse mapping when one exists, otherwise a catalog search scored against
// the provider title.
func (r *Resolver) ResolveForProviderEntry(ctx context.Context, providerName string, entry provider.Entry) (*Resolution, error) {
	if providerName == "" || entry.ID == "" {
		return nil, fmt.Errorf("provider entry needs a provider and an id")
	}
	res := &Resolution{ProviderName: providerName, ProviderEntry: &entry, Query: entry.Title}

	m, err := r.store.MappingByProvider(entry.ID, providerName)
	switch {
	case err == nil:
		res.Status = StatusMapped
		res.Mapping = m
		return res, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if r.catalog == nil {
		res.Status = StatusNone
		return res, nil
	}
	entries, err := r.catalog.Search(ctx, entry.Title)
	if err != nil {
		return nil, fmt.Errorf("searching catalog for %q: %w", entry.Title, err)
	}
	res.Catalog = entries
	res.Candidates = make([]title.Candidate, 0, len(entries))
	for _, ce := range entries {
		res.Candidates = append(res.Candidates, title.Candidate{
			Provider: CatalogCandidate,
			ID:       strconv.Itoa(ce.ID),
			Title:    ce.DisplayTitle(),
			Score:    catalogScore(ce, entry.Title),
		})
	}
	title.SortCandidates(res.Candidates)

	if len(res.Candidates) == 0 {
		res.Status = StatusNone
		return res, nil
	}
	best, ok := title.AutoSelect(res.Candidates, r.match)
	if !ok {
		res.Status = StatusAmbiguous
		return res, nil
	}
	id, _ := strconv.Atoi(best.ID)
	if err := r.link(ctx, res, reconcile.Request{
		Kind:      reconcile.SwapCatalog,
		CatalogID: id,
		Provider:  providerName,
		Entry:     entry,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// catalogScore is the best score of any title variant of e against the
// provider title.
func catalogScore(e catalog.Entry, providerTitle string) float64 {
	refs := []string{providerTitle}
	best := 0.0
	for _, variant := range e.TitleSet().All() {
		if s := title.Score(variant, refs); s > best {
			best = s
		}
	}
	return best
}

// Choose starts a remap to the i-th candidate of res, for manual picks.
func (r *Resolver) Choose(ctx context.Context, res *Resolution, i int) (*reconcile.Context, error) {
	if res == nil || i < 0 || i >= len(res.Candidates) {
		return nil, fmt.Errorf("no candidate %d", i)
	}
	cand := res.Candidates[i]

	var req reconcile.Request
	switch {
	case res.CatalogEntry != nil:
		chosen, ok := findResult(res.Results, cand.Provider, cand.ID)
		if !ok {
			return nil, fmt.Errorf("candidate %s/%s has no result", cand.Provider, cand.ID)
		}
		req = reconcile.Request{Kind: reconcile.SwapProvider, Screen: res.CatalogEntry, Provider: chosen.Provider, Entry: chosen}
	case res.ProviderEntry != nil:
		id, err := strconv.Atoi(cand.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog candidate id %q: %w", cand.ID, err)
		}
		req = reconcile.Request{Kind: reconcile.SwapCatalog, CatalogID: id, Provider: res.ProviderName, Entry: *res.ProviderEntry}
	default:
		return nil, fmt.Errorf("resolution has no origin entry")
	}
	return r.BeginRemap(ctx, req)
}

// BeginRemap passes through to the reconcile engine.
func (r *Resolver) BeginRemap(ctx context.Context, req reconcile.Request) (*reconcile.Context, error) {
	return r.engine.BeginRemap(ctx, req)
}

// ApplyReconcile passes through to the reconcile engine.
func (r *Resolver) ApplyReconcile(ctx context.Context, c *reconcile.Context, policy reconcile.Policy) (*reconcile.Outcome, error) {
	return r.engine.Apply(ctx, c, policy)
}

func (r *Resolver) CancelReconcile(c *reconcile.Context) *storage.Mapping {
	return r.engine.Cancel(c)
}

func (r *Resolver) RetrySync(ctx context.Context, c *reconcile.Context) (*reconcile.Outcome, error) {
	return r.engine.RetrySync(ctx, c)
}

func (r *Resolver) link(ctx context.Context, res *Resolution, req reconcile.Request) error {
	rc, err := r.engine.BeginRemap(ctx, req)
	if err != nil {
		return fmt.Errorf("linking %s on %s: %w", req.Entry.ID, req.Provider, err)
	}
	res.Status = StatusMapped
	res.Reconcile = rc
	if rc != nil {
		m := rc.Mapping
		res.Mapping = &m
		return nil
	}
	m, err := r.store.MappingByProvider(req.Entry.ID, req.Provider)
	if err != nil {
		return fmt.Errorf("reading saved mapping: %w", err)
	}
	res.Mapping = m
	return nil
}

func (r *Resolver) existingMapping(catalogID int, providers []provider.Provider) (*storage.Mapping, error) {
	for _, p := range providers {
		m, err := r.store.MappingByCatalog(catalogID, p.Name())
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func findResult(results []orchestrator.Result, providerName, id string) (provider.Entry, bool) {
	for _, res := range results {
		if res.Entry.Provider == providerName && res.Entry.ID == id {
			return res.Entry, true
		}
	}
	return provider.Entry{}, false
}
