package catalog

import (
	"context"
	"errors"

	"github.com/pders01/crossread/internal/title"
)

var ErrNotFound = errors.New("catalog entry not found")

// ListStatus is the user's list state for an entry. The empty value means
// the entry is not on the user's list.
type ListStatus string

const (
	StatusReading   ListStatus = "reading"
	StatusPlanning  ListStatus = "planning"
	StatusCompleted ListStatus = "completed"
	StatusPaused    ListStatus = "paused"
	StatusDropped   ListStatus = "dropped"
	StatusRepeating ListStatus = "repeating"
)

// Entry is a catalog series. Progress is nil when the user has never tracked
// it remotely.
type Entry struct {
	ID       int        `json:"id"`
	Title    string     `json:"title"`
	English  string     `json:"english,omitempty"`
	Romaji   string     `json:"romaji,omitempty"`
	Native   string     `json:"native,omitempty"`
	Synonyms []string   `json:"synonyms,omitempty"`
	Image    string     `json:"image,omitempty"`
	Chapters *int       `json:"chapters,omitempty"`
	Progress *int       `json:"progress,omitempty"`
	Status   ListStatus `json:"status,omitempty"`
}

func (e Entry) TitleSet() title.TitleSet {
	return title.TitleSet{
		English:  e.English,
		Title:    e.Title,
		Romaji:   e.Romaji,
		Native:   e.Native,
		Synonyms: e.Synonyms,
	}
}

// DisplayTitle picks the first non-empty title variant.
func (e Entry) DisplayTitle() string {
	for _, t := range []string{e.Title, e.English, e.Romaji, e.Native} {
		if t != "" {
			return t
		}
	}
	return ""
}

// RemoteProgress returns the progress counter, treating nil as zero.
func (e Entry) RemoteProgress() int {
	if e.Progress == nil {
		return 0
	}
	return *e.Progress
}

// Source is the authoritative catalog. Write failures are returned, never
// swallowed.
type Source interface {
	Search(ctx context.Context, query string) ([]Entry, error)
	GetByID(ctx context.Context, id int) (*Entry, error)
	UpdateProgress(ctx context.Context, id, progress int) error
	UpdateStatus(ctx context.Context, id int, status ListStatus) error
}
