package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/storage"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func chapters(numbers ...string) []provider.Chapter {
	out := make([]provider.Chapter, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, provider.Chapter{ID: "c" + n, Number: n})
	}
	return out
}

func reversed(in []provider.Chapter) []provider.Chapter {
	out := make([]provider.Chapter, len(in))
	for i, ch := range in {
		out[len(in)-1-i] = ch
	}
	return out
}

var solo = Keys{SeriesID: "solo", Provider: "mangadex", ProviderSeriesID: "md-1", Title: "Solo Leveling"}

func TestParseChapterNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{"3.5", 3.5, true},
		{"Ch. 7 - Extra", 7, true},
		{"Chapter 10.25v2", 10.25, true},
		{"Extra", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseChapterNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkUpToEitherOrder(t *testing.T) {
	asc := chapters("1", "2", "3.5", "4")

	for name, list := range map[string][]provider.Chapter{"ascending": asc, "descending": reversed(asc)} {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t)
			read, err := l.MarkUpTo(solo, list, "c3.5")
			require.NoError(t, err)
			assert.Equal(t, []string{"c1", "c2", "c3.5"}, read)
		})
	}
}

func TestMarkUpToUnparsableTargetUsesPosition(t *testing.T) {
	asc := []provider.Chapter{
		{ID: "c1", Number: "1"},
		{ID: "extra", Number: "Extra"},
		{ID: "c2", Number: "2"},
		{ID: "c3", Number: "3"},
	}

	l := newLedger(t)
	read, err := l.MarkUpTo(solo, asc, "extra")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "extra"}, read)

	l = newLedger(t)
	read, err = l.MarkUpTo(solo, reversed(asc), "extra")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "extra"}, read)
}

func TestMarkUpToExcludesUnparsable(t *testing.T) {
	list := []provider.Chapter{{ID: "a", Number: "1"}, {ID: "b", Number: "notice"}, {ID: "c", Number: "2"}}

	read, err := newLedger(t).MarkUpTo(solo, list, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, read)
}

func TestMarkUpToUnknownChapter(t *testing.T) {
	_, err := newLedger(t).MarkUpTo(solo, chapters("1"), "nope")
	assert.ErrorIs(t, err, ErrUnknownChapter)
}

func TestMarkRange(t *testing.T) {
	l := newLedger(t)
	list := chapters("1", "2", "3", "4", "5")

	read, err := l.MarkRange(solo, list, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3", "c4"}, read)

	// read set only grows
	read, err = l.MarkRange(solo, list, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3", "c4", "c5"}, read)
}

func TestRecordOpenAndLookupByAnyKey(t *testing.T) {
	l := newLedger(t)
	l.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	item, err := l.RecordOpen(solo, provider.Chapter{ID: "c12", Number: "12", Title: "Twelve"}, "mangadex")
	require.NoError(t, err)
	assert.Equal(t, "c12", item.LastChapterID)
	assert.Equal(t, "mangadex", item.Source)
	assert.Equal(t, 2025, item.LastReadAt.Year())

	for name, keys := range map[string]Keys{
		"series id":   {SeriesID: "solo"},
		"provider id": {Provider: "mangadex", ProviderSeriesID: "md-1"},
		"title only":  {Title: "solo   LEVELING!"},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := l.GetItem(keys)
			require.NoError(t, err)
			assert.Equal(t, item.ID, got.ID)
		})
	}
}

func TestIDDriftRegistersNewAlias(t *testing.T) {
	l := newLedger(t)
	_, err := l.RecordOpen(solo, provider.Chapter{ID: "c1", Number: "1"}, "")
	require.NoError(t, err)

	// the catalog id shows up later alongside the title
	drifted := Keys{CatalogID: 105398, Title: "Solo Leveling"}
	_, err = l.RecordOpen(drifted, provider.Chapter{ID: "c2", Number: "2"}, "")
	require.NoError(t, err)

	read, err := l.GetReadChapters(Keys{CatalogID: 105398})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, read)

	item, err := l.GetItem(Keys{CatalogID: 105398})
	require.NoError(t, err)
	assert.Equal(t, 105398, item.CatalogID)
	assert.Equal(t, "solo", item.SeriesID)
}

func TestToggleRead(t *testing.T) {
	l := newLedger(t)
	ch := provider.Chapter{ID: "c3", Number: "3"}

	read, err := l.ToggleRead(solo, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, read)

	read, err = l.ToggleRead(solo, ch)
	require.NoError(t, err)
	assert.Empty(t, read)

	_, ok, err := l.LocalProgress(solo)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetReadThroughReplaces(t *testing.T) {
	l := newLedger(t)
	list := chapters("1", "2", "3", "4", "5")
	_, err := l.MarkRange(solo, list, 1, 5)
	require.NoError(t, err)

	read, err := l.SetReadThrough(solo, list, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, read)

	item, err := l.GetItem(solo)
	require.NoError(t, err)
	assert.Equal(t, "c3", item.LastChapterID)

	progress, ok, err := l.LocalProgress(solo)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, progress)

	read, err = l.SetReadThrough(solo, list, 0)
	require.NoError(t, err)
	assert.Empty(t, read)
	item, err = l.GetItem(solo)
	require.NoError(t, err)
	assert.Empty(t, item.LastChapterID)
}

func TestLocalProgress(t *testing.T) {
	l := newLedger(t)

	_, ok, err := l.LocalProgress(solo)
	require.NoError(t, err)
	assert.False(t, ok, "no record yet")

	_, err = l.MarkRange(solo, chapters("1", "2", "40.5", "7"), 0, 100)
	require.NoError(t, err)
	_, err = l.ToggleRead(solo, provider.Chapter{ID: "extra", Number: "Omake"})
	require.NoError(t, err)

	progress, ok, err := l.LocalProgress(solo)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 40, progress)
}

func TestLocalProgressLeavesAliasesAlone(t *testing.T) {
	l := newLedger(t)
	_, err := l.RecordOpen(Keys{Title: "Solo Leveling"}, provider.Chapter{ID: "c2", Number: "2"}, "")
	require.NoError(t, err)

	target := Keys{CatalogID: 999, Title: "Solo Leveling"}
	progress, ok, err := l.LocalProgress(target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, progress)

	_, err = l.GetItem(Keys{CatalogID: 999})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, l.Link(target))
	_, err = l.GetItem(Keys{CatalogID: 999})
	assert.NoError(t, err)
	assert.NoError(t, l.Link(Keys{CatalogID: 1}), "linking an unknown series is a no-op")
}

func TestClearSeriesOnlyTouchesResolvedRecord(t *testing.T) {
	l := newLedger(t)
	other := Keys{SeriesID: "orv", Title: "Omniscient Reader"}

	_, err := l.RecordOpen(solo, provider.Chapter{ID: "c1", Number: "1"}, "")
	require.NoError(t, err)
	_, err = l.RecordOpen(other, provider.Chapter{ID: "o1", Number: "1"}, "")
	require.NoError(t, err)

	require.NoError(t, l.ClearSeries(solo))

	item, err := l.GetItem(solo)
	require.NoError(t, err)
	assert.Empty(t, item.ReadChapters)
	assert.Empty(t, item.LastChapterID)

	read, err := l.GetReadChapters(other)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, read)

	assert.NoError(t, l.ClearSeries(Keys{SeriesID: "missing"}))
}

func TestClearAll(t *testing.T) {
	l := newLedger(t)
	_, err := l.RecordOpen(solo, provider.Chapter{ID: "c1", Number: "1"}, "")
	require.NoError(t, err)

	require.NoError(t, l.ClearAll())

	_, err = l.GetItem(solo)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	read, err := l.GetReadChapters(solo)
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestKeysRequired(t *testing.T) {
	_, err := newLedger(t).RecordOpen(Keys{}, provider.Chapter{ID: "x"}, "")
	assert.Error(t, err)
}

type recordingListener struct {
	updated []string
	cleared int
}

func (r *recordingListener) HistoryUpdated(item *storage.HistoryItem) {
	r.updated = append(r.updated, item.ID)
}

func (r *recordingListener) HistoryCleared() { r.cleared++ }

func TestListenerSeesWrites(t *testing.T) {
	l := newLedger(t)
	rec := &recordingListener{}
	l.AddListener(rec)

	item, err := l.RecordOpen(solo, provider.Chapter{ID: "c1", Number: "1"}, "")
	require.NoError(t, err)
	_, err = l.ToggleRead(solo, provider.Chapter{ID: "c2", Number: "2"})
	require.NoError(t, err)
	require.NoError(t, l.ClearSeries(solo))
	require.NoError(t, l.ClearSeries(Keys{SeriesID: "missing"}))
	require.NoError(t, l.ClearAll())

	assert.Equal(t, []string{item.ID, item.ID, item.ID}, rec.updated)
	assert.Equal(t, 1, rec.cleared)
}
