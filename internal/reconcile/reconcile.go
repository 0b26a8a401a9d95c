package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/history"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/storage"
)

var (
	// ErrProgressSync marks a failed progress push after the mapping was
	// already saved.
	ErrProgressSync = errors.New("progress sync failed")
	ErrInvalidState = errors.New("invalid reconcile state")
	ErrNoChapters   = errors.New("no chapters to mark")
)

type State string

const (
	StateIdle             State = "idle"
	StateAwaitingContext  State = "awaiting_context"
	StatePresentingChoice State = "presenting_choice"
	StateApplying         State = "applying"
	StateResolved         State = "resolved"
	StateCancelled        State = "cancelled"
)

type Policy string

const (
	PolicyHigher   Policy = "higher"
	PolicyProvider Policy = "provider"
	PolicyCatalog  Policy = "catalog"
	PolicyNone     Policy = "none"
)

// Policies lists every policy in the order they are offered.
func Policies() []Policy {
	return []Policy{PolicyHigher, PolicyProvider, PolicyCatalog, PolicyNone}
}

func ParsePolicy(s string) (Policy, error) {
	for _, p := range Policies() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown policy %q", s)
}

// Describe is a one line explanation of what a policy will do.
func (p Policy) Describe() string {
	switch p {
	case PolicyHigher:
		return "keep whichever progress is further along"
	case PolicyProvider:
		return "push local history to the catalog"
	case PolicyCatalog:
		return "replace local history with the catalog progress"
	case PolicyNone:
		return "link only, leave progress alone"
	}
	return ""
}

type SwapKind string

const (
	// SwapProvider relinks a catalog entry to another provider entry.
	SwapProvider SwapKind = "provider"
	// SwapCatalog relinks a provider entry to another catalog entry.
	SwapCatalog SwapKind = "catalog"
)

// Request describes one remap. Screen is the catalog entry currently shown,
// if any; the target entry is fetched fresh unless Screen already is it.
type Request struct {
	Kind      SwapKind
	Screen    *catalog.Entry
	CatalogID int
	Provider  string
	Entry     provider.Entry
	SeriesID  string
	Chapters  []provider.Chapter
}

// MappingListener is told about every saved mapping.
type MappingListener interface {
	MappingSaved(m *storage.Mapping)
}

// Context carries one remap run through the state machine.
type Context struct {
	State          State
	Request        Request
	Catalog        catalog.Entry
	Mapping        storage.Mapping
	Previous       *storage.Mapping
	Keys           history.Keys
	LocalProgress  int
	HasLocal       bool
	RemoteProgress int
	Policy         Policy
	Outcome        *Outcome
}

// Conflict reports whether local and remote progress disagree. Missing
// progress counts as zero.
func (c *Context) Conflict() bool {
	return c.LocalProgress != c.RemoteProgress
}

// Outcome is the result of applying a policy. ProgressErr is set when the
// mapping was saved but the progress sync failed.
type Outcome struct {
	Policy       Policy
	Mapping      storage.Mapping
	Local        int
	Remote       int
	ReadChapters []string
	ProgressErr  error
}

// Partial reports whether only the mapping part succeeded.
func (o *Outcome) Partial() bool { return o.ProgressErr != nil }

type Option func(*Engine)

func WithListener(l MappingListener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

// Engine runs remaps against the mapping store, the local ledger and the
// catalog.
type Engine struct {
	store     *storage.Store
	ledger    *history.Ledger
	catalog   catalog.Source
	providers *provider.Registry
	listeners []MappingListener
	log       *debuglog.FieldLogger
}

func New(store *storage.Store, ledger *history.Ledger, source catalog.Source, providers *provider.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		ledger:    ledger,
		catalog:   source,
		providers: providers,
		log:       debuglog.Component("reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddListener registers l after construction.
func (e *Engine) AddListener(l MappingListener) {
	if l != nil {
		e.listeners = append(e.listeners, l)
	}
}

// BeginRemap gathers both progress values for req. When they agree the
// mapping is saved right away with PolicyNone and nil is returned; otherwise
// the returned context waits for a policy.
func (e *Engine) BeginRemap(ctx context.Context, req Request) (*Context, error) {
	if req.Provider == "" || req.Entry.ID == "" {
		return nil, fmt.Errorf("remap needs a provider entry")
	}
	if req.CatalogID == 0 && req.Screen != nil {
		req.CatalogID = req.Screen.ID
	}
	if req.CatalogID == 0 {
		return nil, fmt.Errorf("remap needs a catalog entry")
	}
	if req.Kind == "" {
		req.Kind = SwapProvider
	}

	c := &Context{State: StateAwaitingContext, Request: req}
	log := e.log.With("catalog", req.CatalogID).With("provider", req.Provider)

	target, err := e.targetEntry(ctx, req)
	if err != nil {
		return nil, err
	}
	c.Catalog = *target
	c.RemoteProgress = target.RemoteProgress()

	prev, err := e.previous(req)
	if err != nil {
		return nil, err
	}
	c.Previous = prev

	c.Mapping = newMapping(req, target)
	c.Keys = history.Keys{
		SeriesID:         req.SeriesID,
		CatalogID:        target.ID,
		Provider:         req.Provider,
		ProviderSeriesID: req.Entry.ID,
		Title:            firstNonEmpty(req.Entry.Title, target.DisplayTitle()),
	}
	c.LocalProgress, c.HasLocal, err = e.ledger.LocalProgress(c.Keys)
	if err != nil {
		return nil, fmt.Errorf("reading local progress: %w", err)
	}

	if !c.Conflict() {
		log.Debugf("no conflict at %d, linking %s", c.LocalProgress, req.Entry.ID)
		c.State = StatePresentingChoice
		if _, err := e.Apply(ctx, c, PolicyNone); err != nil {
			return nil, err
		}
		return nil, nil
	}

	log.Infof("progress conflict: local %d, remote %d", c.LocalProgress, c.RemoteProgress)
	c.State = StatePresentingChoice
	return c, nil
}

// Apply saves the mapping, then runs the one-directional sync of policy.
// A failed sync is reported in Outcome.ProgressErr and does not undo the
// mapping.
func (e *Engine) Apply(ctx context.Context, c *Context, policy Policy) (*Outcome, error) {
	if c == nil || c.State != StatePresentingChoice {
		return nil, fmt.Errorf("%w: apply from %s", ErrInvalidState, stateOf(c))
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}

	c.State = StateApplying
	m := c.Mapping
	if err := e.store.PutMapping(&m); err != nil {
		c.State = StatePresentingChoice
		return nil, fmt.Errorf("saving mapping: %w", err)
	}
	c.Mapping = m
	c.Policy = policy
	if err := e.ledger.Link(c.Keys); err != nil {
		e.log.With("catalog", m.CatalogID).Warnf("linking history aliases: %v", err)
	}
	for _, l := range e.listeners {
		l.MappingSaved(&m)
	}

	out := e.sync(ctx, c)
	c.Outcome = out
	c.State = StateResolved
	return out, nil
}

// RetrySync re-runs only the progress sync of a resolved context.
func (e *Engine) RetrySync(ctx context.Context, c *Context) (*Outcome, error) {
	if c == nil || c.State != StateResolved {
		return nil, fmt.Errorf("%w: retry from %s", ErrInvalidState, stateOf(c))
	}
	out := e.sync(ctx, c)
	c.Outcome = out
	return out, nil
}

// Cancel abandons c without writing anything and returns the mapping that
// was active before the remap, which may be nil.
func (e *Engine) Cancel(c *Context) *storage.Mapping {
	if c == nil {
		return nil
	}
	switch c.State {
	case StateResolved, StateCancelled, StateApplying:
		return nil
	}
	c.State = StateCancelled
	e.log.With("catalog", c.Mapping.CatalogID).Debugf("remap cancelled")
	return c.Previous
}

func (e *Engine) sync(ctx context.Context, c *Context) *Outcome {
	out := &Outcome{
		Policy:  c.Policy,
		Mapping: c.Mapping,
		Local:   c.LocalProgress,
		Remote:  c.RemoteProgress,
	}
	log := e.log.With("catalog", c.Catalog.ID).With("policy", c.Policy)

	var err error
	switch c.Policy {
	case PolicyHigher:
		if c.LocalProgress >= c.RemoteProgress {
			// A sparse read set still counts as read through its highest chapter.
			if err = e.pushRemote(ctx, c, out); err == nil {
				err = e.markThrough(ctx, c, out, c.LocalProgress, false)
			}
		} else {
			err = e.markThrough(ctx, c, out, c.RemoteProgress, false)
		}
	case PolicyProvider:
		err = e.pushRemote(ctx, c, out)
	case PolicyCatalog:
		err = e.markThrough(ctx, c, out, c.RemoteProgress, true)
	}
	if err != nil {
		out.ProgressErr = fmt.Errorf("%w: %w", ErrProgressSync, err)
		log.Warnf("%v", out.ProgressErr)
		return out
	}

	if out.ReadChapters == nil {
		if read, err := e.ledger.GetReadChapters(c.Keys); err == nil {
			out.ReadChapters = read
		}
	}
	log.Debugf("resolved: local %d, remote %d", out.Local, out.Remote)
	return out
}

func (e *Engine) pushRemote(ctx context.Context, c *Context, out *Outcome) error {
	id, progress := c.Catalog.ID, c.LocalProgress
	if err := e.catalog.UpdateProgress(ctx, id, progress); err != nil {
		return fmt.Errorf("updating catalog progress: %w", err)
	}
	c.Catalog.Progress = &progress
	c.RemoteProgress = progress
	out.Remote = progress

	if c.Catalog.Status == "" || c.Catalog.Status == catalog.StatusPlanning {
		if err := e.catalog.UpdateStatus(ctx, id, catalog.StatusReading); err != nil {
			return fmt.Errorf("updating catalog status: %w", err)
		}
		c.Catalog.Status = catalog.StatusReading
	}
	return nil
}

// markThrough marks every chapter numbered at or below through as read.
// With replace the read set is rebuilt from scratch, otherwise it only grows.
func (e *Engine) markThrough(ctx context.Context, c *Context, out *Outcome, through int, replace bool) error {
	chapters, err := e.chapters(ctx, c)
	if err != nil {
		return err
	}
	if through > 0 && len(chapters) == 0 {
		return ErrNoChapters
	}

	var read []string
	if replace {
		read, err = e.ledger.SetReadThrough(c.Keys, chapters, float64(through))
	} else {
		read, err = e.ledger.MarkRange(c.Keys, chapters, 0, float64(through))
	}
	if err != nil {
		return fmt.Errorf("updating local history: %w", err)
	}
	out.ReadChapters = read

	local, _, err := e.ledger.LocalProgress(c.Keys)
	if err != nil {
		return fmt.Errorf("reading local progress: %w", err)
	}
	c.LocalProgress = local
	out.Local = local
	return nil
}

func (e *Engine) chapters(ctx context.Context, c *Context) ([]provider.Chapter, error) {
	if len(c.Request.Chapters) > 0 {
		return c.Request.Chapters, nil
	}
	if len(c.Request.Entry.Chapters) > 0 {
		return c.Request.Entry.Chapters, nil
	}
	if e.providers == nil {
		return nil, nil
	}
	p, err := e.providers.Get(c.Request.Provider)
	if err != nil {
		return nil, err
	}
	details, err := p.Details(ctx, c.Request.Entry.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching chapters from %s: %w", p.Name(), err)
	}
	c.Request.Chapters = details.Chapters
	return details.Chapters, nil
}

func (e *Engine) targetEntry(ctx context.Context, req Request) (*catalog.Entry, error) {
	if req.Screen != nil && req.Screen.ID == req.CatalogID {
		entry := *req.Screen
		return &entry, nil
	}
	entry, err := e.catalog.GetByID(ctx, req.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog entry %d: %w", req.CatalogID, err)
	}
	return entry, nil
}

// previous is the mapping shown before the remap: the catalog entry's
// current link for a provider swap, or the provider entry's current link
// for a catalog swap.
func (e *Engine) previous(req Request) (*storage.Mapping, error) {
	var (
		m   *storage.Mapping
		err error
	)
	switch req.Kind {
	case SwapCatalog:
		m, err = e.store.MappingByProvider(req.Entry.ID, req.Provider)
	default:
		catalogID := req.CatalogID
		if req.Screen != nil {
			catalogID = req.Screen.ID
		}
		m, err = e.store.MappingByCatalog(catalogID, req.Provider)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading current mapping: %w", err)
	}
	return m, nil
}

func newMapping(req Request, target *catalog.Entry) storage.Mapping {
	m := storage.Mapping{
		CatalogID:  target.ID,
		Provider:   req.Provider,
		ProviderID: req.Entry.ID,
		Title:      firstNonEmpty(req.Entry.Title, target.DisplayTitle()),
		Image:      firstNonEmpty(req.Entry.Image, target.Image),
		Status:     req.Entry.Status,
		Rating:     req.Entry.Rating,
	}
	if req.Entry.InternalID != nil {
		id := *req.Entry.InternalID
		m.ProviderInternalID = &id
	}
	return m
}

func stateOf(c *Context) State {
	if c == nil {
		return StateIdle
	}
	return c.State
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
