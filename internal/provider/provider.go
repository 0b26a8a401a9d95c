package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Chapter is one readable unit published by a provider. Number is free text
// ("12", "12.5", "Ch. 3 - Extra"); callers parse it leniently.
type Chapter struct {
	ID     string    `json:"id"`
	Number string    `json:"number"`
	Title  string    `json:"title"`
	Date   time.Time `json:"date"`
}

// Entry is a series as a provider describes it. IDs are only stable within
// the provider that issued them.
type Entry struct {
	Provider   string    `json:"provider"`
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Image      string    `json:"image,omitempty"`
	Status     string    `json:"status,omitempty"`
	Rating     float64   `json:"rating,omitempty"`
	InternalID *int64    `json:"internal_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Chapters   []Chapter `json:"chapters,omitempty"`
}

// Provider is implemented by each content source. Implementations own id
// canonicalization: Details must accept both bare slugs and full URLs.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, page int) ([]Entry, error)
	Details(ctx context.Context, id string) (*Entry, error)
}

// URLHandler is implemented by providers whose ids are URL shaped, so an id
// pasted by the user can be routed to the right provider.
type URLHandler interface {
	CanHandle(rawURL string) bool
	Priority() int
}

// Registry holds the configured providers in registration order.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds p, replacing any provider already registered under its name.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		for i, existing := range r.providers {
			if existing.Name() == name {
				r.providers[i] = p
			}
		}
	} else {
		r.providers = append(r.providers, p)
	}
	r.byName[name] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// All returns every registered provider.
func (r *Registry) All() []Provider {
	return append([]Provider(nil), r.providers...)
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the providers named in names, in that order. An empty list
// selects everything.
func (r *Registry) Select(names []string) ([]Provider, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := r.Get(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FindByURL returns the highest priority provider that claims rawURL.
func (r *Registry) FindByURL(rawURL string) Provider {
	var best Provider
	highest := -1
	for _, p := range r.providers {
		h, ok := p.(URLHandler)
		if !ok {
			continue
		}
		if h.CanHandle(rawURL) && h.Priority() > highest {
			best = p
			highest = h.Priority()
		}
	}
	return best
}
