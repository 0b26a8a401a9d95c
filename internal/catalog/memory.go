package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pders01/crossread/internal/title"
)

// Memory is an in-process Source, used by tests and offline runs. Search
// matches on normalized substrings of any title variant.
type Memory struct {
	mu      sync.Mutex
	entries map[int]Entry

	// FailWrites makes UpdateProgress and UpdateStatus fail.
	FailWrites error
	// FailSearch makes Search fail.
	FailSearch error
}

func NewMemory(entries ...Entry) *Memory {
	m := &Memory{entries: make(map[int]Entry)}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return m
}

func (m *Memory) Put(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
}

func (m *Memory) Search(_ context.Context, query string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSearch != nil {
		return nil, m.FailSearch
	}
	q := title.Normalize(query)
	var out []Entry
	for _, e := range m.entries {
		for _, t := range e.TitleSet().All() {
			if strings.Contains(title.Normalize(t), q) {
				out = append(out, clone(e))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetByID(_ context.Context, id int) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	c := clone(e)
	return &c, nil
}

func (m *Memory) UpdateProgress(_ context.Context, id, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	e.Progress = &progress
	m.entries[id] = e
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id int, status ListStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	e.Status = status
	m.entries[id] = e
	return nil
}

func clone(e Entry) Entry {
	e.Synonyms = append([]string(nil), e.Synonyms...)
	if e.Progress != nil {
		p := *e.Progress
		e.Progress = &p
	}
	if e.Chapters != nil {
		c := *e.Chapters
		e.Chapters = &c
	}
	return e
}
