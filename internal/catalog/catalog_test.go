package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestEntryHelpers(t *testing.T) {
	e := Entry{ID: 1, English: "Solo Leveling", Romaji: "Na Honjaman Level Up", Synonyms: []string{"Only I Level Up"}}

	assert.Equal(t, "Solo Leveling", e.DisplayTitle())
	assert.Equal(t, 0, e.RemoteProgress())

	ts := e.TitleSet()
	assert.Equal(t, "Solo Leveling", ts.English)
	assert.Equal(t, []string{"Only I Level Up"}, ts.Synonyms)

	e.Progress = intPtr(12)
	assert.Equal(t, 12, e.RemoteProgress())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(
		Entry{ID: 2, Title: "Solo Leveling: Ragnarok"},
		Entry{ID: 1, English: "Solo Leveling", Synonyms: []string{"Only I Level Up"}},
		Entry{ID: 3, Title: "Omniscient Reader"},
	)

	found, err := m.Search(ctx, "SOLO leveling")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 1, found[0].ID)

	found, err = m.Search(ctx, "only i")
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, m.UpdateProgress(ctx, 1, 40))
	require.NoError(t, m.UpdateStatus(ctx, 1, StatusReading))
	got, err := m.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 40, got.RemoteProgress())
	assert.Equal(t, StatusReading, got.Status)

	// returned entries are copies
	*got.Progress = 1
	again, _ := m.GetByID(ctx, 1)
	assert.Equal(t, 40, again.RemoteProgress())

	_, err = m.GetByID(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	m.FailWrites = errors.New("offline")
	assert.Error(t, m.UpdateProgress(ctx, 1, 41))
}
