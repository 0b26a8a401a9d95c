package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/searchcache"
	"github.com/pders01/crossread/internal/title"
)

// ErrSuperseded is returned when work belongs to a search that a newer one
// has replaced.
var ErrSuperseded = errors.New("search superseded by a newer one")

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ProviderState is one provider's progress in the current search.
type ProviderState struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Results int    `json:"results"`
}

// Result is a merged provider entry scored against the request references.
type Result struct {
	Entry provider.Entry `json:"entry"`
	Score float64        `json:"score"`
}

func (r Result) Candidate() title.Candidate {
	return title.Candidate{Provider: r.Entry.Provider, ID: r.Entry.ID, Title: r.Entry.Title, Score: r.Score}
}

// Snapshot is a deep copy of the orchestrator state.
type Snapshot struct {
	Generation uint64          `json:"generation"`
	Query      string          `json:"query"`
	Page       int             `json:"page"`
	Providers  []ProviderState `json:"providers"`
	Results    []Result        `json:"results"`
	Superseded bool            `json:"superseded,omitempty"`
}

// Done reports whether no provider is still pending.
func (s Snapshot) Done() bool {
	for _, p := range s.Providers {
		if p.Status == StatusPending {
			return false
		}
	}
	return true
}

// Candidates returns the ranked results as scorer candidates.
func (s Snapshot) Candidates() []title.Candidate {
	out := make([]title.Candidate, len(s.Results))
	for i, r := range s.Results {
		out[i] = r.Candidate()
	}
	return out
}

// Request describes one fan-out. Providers listed in Seeds are answered from
// those entries without a live query.
type Request struct {
	Query      string
	Page       int
	References []string
	Providers  []provider.Provider
	Seeds      map[string][]provider.Entry
}

type Option func(*Orchestrator)

// WithOnUpdate registers a callback run after every committed change.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(o *Orchestrator) { o.onUpdate = fn }
}

// Orchestrator fans a query out to several providers and merges results as
// they arrive. Only the latest search may change the shared state.
type Orchestrator struct {
	cache    *searchcache.Cache
	onUpdate func(Snapshot)
	log      *debuglog.FieldLogger

	mu         sync.Mutex
	generation uint64
	query      string
	page       int
	refs       []string
	order      []string
	states     map[string]*ProviderState
	results    map[string]*Result
}

func New(cache *searchcache.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:   cache,
		log:     debuglog.Component("orchestrator"),
		states:  make(map[string]*ProviderState),
		results: make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run is the handle of one Search call.
type Run struct {
	o          *Orchestrator
	generation uint64
	wg         sync.WaitGroup
}

// Generation is the token this run commits under.
func (r *Run) Generation() uint64 { return r.generation }

// Wait blocks until this run's provider queries have completed. The returned
// snapshot is marked Superseded when a newer search replaced this one.
func (r *Run) Wait() Snapshot {
	r.wg.Wait()
	snap := r.o.Snapshot()
	snap.Superseded = snap.Generation != r.generation
	return snap
}

// Refresh re-queries one provider through the cache and merges the answer
// into this run. A failed refresh is committed too: it marks a provider that
// had not succeeded as failed and leaves a successful one as it was. It fails
// with ErrSuperseded when the run is no longer current, in which case nothing
// is merged.
func (r *Run) Refresh(ctx context.Context, p provider.Provider) (Snapshot, error) {
	o := r.o
	o.mu.Lock()
	query, page := o.query, o.page
	current := o.generation == r.generation
	o.mu.Unlock()
	if !current {
		return Snapshot{}, ErrSuperseded
	}

	entry, err := o.cache.Refresh(ctx, query, p, page)
	snap, ok := o.commit(r.generation, p.Name(), entry.Results, err, true)
	if !ok {
		return Snapshot{}, ErrSuperseded
	}
	return snap, err
}

// Search starts a new generation, resets the shared state and queries every
// provider without a seed concurrently. It returns immediately.
func (o *Orchestrator) Search(ctx context.Context, req Request) *Run {
	if req.Page < 1 {
		req.Page = 1
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.query = req.Query
	o.page = req.Page
	o.refs = append([]string(nil), req.References...)
	if len(o.refs) == 0 {
		o.refs = []string{req.Query}
	}
	o.order = o.order[:0]
	o.states = make(map[string]*ProviderState, len(req.Providers))
	o.results = make(map[string]*Result)
	for _, p := range req.Providers {
		o.order = append(o.order, p.Name())
		o.states[p.Name()] = &ProviderState{Name: p.Name(), Status: StatusPending}
	}
	o.mu.Unlock()

	o.log.With("generation", gen).Debugf("search %q across %d providers", req.Query, len(req.Providers))

	run := &Run{o: o, generation: gen}
	for _, p := range req.Providers {
		if seed, ok := req.Seeds[p.Name()]; ok {
			o.commit(gen, p.Name(), seed, nil, false)
			continue
		}
		run.wg.Add(1)
		go func(p provider.Provider) {
			defer run.wg.Done()
			entry, err := o.cache.Refresh(ctx, req.Query, p, req.Page)
			o.commit(gen, p.Name(), entry.Results, err, false)
		}(p)
	}
	return run
}

// commit applies one provider completion if gen is still current. keepStatus
// leaves a failed refresh of an already successful provider untouched.
func (o *Orchestrator) commit(gen uint64, name string, entries []provider.Entry, err error, keepStatus bool) (Snapshot, bool) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		o.log.With("generation", gen).Debugf("dropping stale result from %s", name)
		return Snapshot{}, false
	}

	state := o.states[name]
	if state == nil {
		state = &ProviderState{Name: name}
		o.states[name] = state
		o.order = append(o.order, name)
	}

	if err != nil {
		if !keepStatus || state.Status != StatusSuccess {
			state.Status = StatusFailed
			state.Error = err.Error()
		}
		o.log.With("provider", name).Warnf("search failed: %v", err)
	} else {
		state.Status = StatusSuccess
		state.Error = ""
		for _, e := range entries {
			if e.Provider == "" {
				e.Provider = name
			}
			o.merge(e)
		}
		state.Results = o.countFor(name)
	}

	snap := o.snapshotLocked()
	onUpdate := o.onUpdate
	o.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snap)
	}
	return snap, true
}

func (o *Orchestrator) merge(e provider.Entry) {
	key := e.Provider + "|" + e.ID
	existing, ok := o.results[key]
	if !ok {
		o.results[key] = &Result{Entry: cloneEntry(e), Score: title.Score(e.Title, o.refs)}
		return
	}

	cur := &existing.Entry
	if cur.Title == "" && e.Title != "" {
		cur.Title = e.Title
		existing.Score = title.Score(cur.Title, o.refs)
	}
	if cur.Image == "" {
		cur.Image = e.Image
	}
	if cur.Status == "" {
		cur.Status = e.Status
	}
	if cur.Rating == 0 {
		cur.Rating = e.Rating
	}
	if cur.URL == "" {
		cur.URL = e.URL
	}
	if cur.InternalID == nil && e.InternalID != nil {
		id := *e.InternalID
		cur.InternalID = &id
	}
	if len(cur.Chapters) == 0 && len(e.Chapters) > 0 {
		cur.Chapters = append([]provider.Chapter(nil), e.Chapters...)
	}
}

func (o *Orchestrator) countFor(name string) int {
	n := 0
	for _, r := range o.results {
		if r.Entry.Provider == name {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Generation: o.generation,
		Query:      o.query,
		Page:       o.page,
		Providers:  make([]ProviderState, 0, len(o.order)),
		Results:    make([]Result, 0, len(o.results)),
	}
	for _, name := range o.order {
		snap.Providers = append(snap.Providers, *o.states[name])
	}
	for _, r := range o.results {
		snap.Results = append(snap.Results, Result{Entry: cloneEntry(r.Entry), Score: r.Score})
	}
	sort.Slice(snap.Results, func(i, j int) bool {
		a, b := snap.Results[i], snap.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Entry.Provider != b.Entry.Provider {
			return a.Entry.Provider < b.Entry.Provider
		}
		return a.Entry.ID < b.Entry.ID
	})
	return snap
}

func cloneEntry(e provider.Entry) provider.Entry {
	e.Chapters = append([]provider.Chapter(nil), e.Chapters...)
	if e.InternalID != nil {
		id := *e.InternalID
		e.InternalID = &id
	}
	return e
}
