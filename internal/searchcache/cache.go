package searchcache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/title"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultPrefetchWorkers = 3
)

// Key identifies one provider result page for a normalized query.
type Key struct {
	Query    string
	Provider string
	Page     int
}

func (k Key) String() string {
	return k.Provider + "|" + strconv.Itoa(k.Page) + "|" + k.Query
}

func newKey(query, providerName string, page int) Key {
	if page < 1 {
		page = 1
	}
	return Key{Query: title.Normalize(query), Provider: providerName, Page: page}
}

// Entry is a copy of a cached result page. Stale entries are still served.
type Entry struct {
	Key       Key
	Results   []provider.Entry
	CreatedAt time.Time
	Stale     bool
}

type record struct {
	results   []provider.Entry
	createdAt time.Time
}

// Cache is a session-scoped stale-while-revalidate cache of provider search
// pages. Readers only ever receive copies.
type Cache struct {
	ttl     time.Duration
	workers int
	now     func() time.Time
	log     *debuglog.FieldLogger

	mu      sync.RWMutex
	entries map[Key]record

	flight   singleflight.Group
	prefetch sync.WaitGroup
}

type Option func(*Cache)

// WithClock replaces time.Now, for staleness tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPrefetchWorkers bounds concurrent prefetch queries.
func WithPrefetchWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		workers: DefaultPrefetchWorkers,
		now:     time.Now,
		log:     debuglog.Component("searchcache"),
		entries: make(map[Key]record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL is the age at which entries turn stale.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Peek returns the cached page, stale or not. It never performs I/O.
func (c *Cache) Peek(query, providerName string, page int) (Entry, bool) {
	key := newKey(query, providerName, page)
	c.mu.RLock()
	rec, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return c.entry(key, rec), true
}

// Refresh queries the provider and replaces the cached page. Concurrent
// refreshes of one key share a single provider call. A failed refresh keeps
// the previous entry.
func (c *Cache) Refresh(ctx context.Context, query string, p provider.Provider, page int) (Entry, error) {
	key := newKey(query, p.Name(), page)

	v, err, shared := c.flight.Do(key.String(), func() (interface{}, error) {
		start := c.now()
		results, err := p.Search(ctx, query, key.Page)
		if err != nil {
			return nil, err
		}
		rec := record{results: cloneResults(results), createdAt: c.now()}
		c.mu.Lock()
		c.entries[key] = rec
		c.mu.Unlock()
		c.log.With("provider", key.Provider).Debugf("refreshed %q page %d: %d results in %s",
			key.Query, key.Page, len(results), c.now().Sub(start))
		return rec, nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("searching %s for %q: %w", key.Provider, query, err)
	}
	if shared {
		c.log.With("provider", key.Provider).Debugf("joined in-flight refresh of %q", key.Query)
	}
	return c.entry(key, v.(record)), nil
}

// Prefetch warms page 1 for each term in the background. Fresh keys are
// skipped and failures are only logged.
func (c *Cache) Prefetch(ctx context.Context, terms []string, p provider.Provider) {
	var pending []string
	for _, term := range terms {
		if e, ok := c.Peek(term, p.Name(), 1); ok && !e.Stale {
			continue
		}
		pending = append(pending, term)
	}
	if len(pending) == 0 {
		return
	}

	c.prefetch.Add(1)
	go func() {
		defer c.prefetch.Done()

		g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
		g.SetLimit(c.workers)
		for _, term := range pending {
			g.Go(func() error {
				if _, err := c.Refresh(gctx, term, p, 1); err != nil {
					c.log.With("provider", p.Name()).Debugf("prefetch %q failed: %v", term, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until background prefetches have finished.
func (c *Cache) Wait() {
	c.prefetch.Wait()
}

// Len is the number of cached pages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) entry(key Key, rec record) Entry {
	return Entry{
		Key:       key,
		Results:   cloneResults(rec.results),
		CreatedAt: rec.createdAt,
		Stale:     c.now().Sub(rec.createdAt) >= c.ttl,
	}
}

func cloneResults(in []provider.Entry) []provider.Entry {
	out := make([]provider.Entry, len(in))
	for i, e := range in {
		e.Chapters = append([]provider.Chapter(nil), e.Chapters...)
		if e.InternalID != nil {
			id := *e.InternalID
			e.InternalID = &id
		}
		out[i] = e
	}
	return out
}
