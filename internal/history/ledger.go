package history

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/storage"
	"github.com/pders01/crossread/internal/title"
)

var ErrUnknownChapter = errors.New("chapter not in list")

// Keys are every identifier a caller may currently know a series by. Any one
// of them is enough to find the record; ids are tried before the title.
type Keys struct {
	SeriesID         string
	CatalogID        int
	Provider         string
	ProviderSeriesID string
	Title            string
}

func (k Keys) aliases() []string {
	var out []string
	if k.SeriesID != "" {
		out = append(out, "series:"+k.SeriesID)
	}
	if k.CatalogID != 0 {
		out = append(out, "catalog:"+strconv.Itoa(k.CatalogID))
	}
	if k.Provider != "" && k.ProviderSeriesID != "" {
		out = append(out, "provider:"+k.Provider+":"+k.ProviderSeriesID)
	}
	if t := title.Normalize(k.Title); t != "" {
		out = append(out, "title:"+t)
	}
	return out
}

func (k Keys) newItem() *storage.HistoryItem {
	return &storage.HistoryItem{
		SeriesID:         k.SeriesID,
		CatalogID:        k.CatalogID,
		Provider:         k.Provider,
		ProviderSeriesID: k.ProviderSeriesID,
		Title:            k.Title,
	}
}

// refresh records the caller's current ids on the item.
func (k Keys) refresh(item *storage.HistoryItem) {
	if k.SeriesID != "" {
		item.SeriesID = k.SeriesID
	}
	if k.CatalogID != 0 {
		item.CatalogID = k.CatalogID
	}
	if k.Provider != "" && k.ProviderSeriesID != "" {
		item.Provider = k.Provider
		item.ProviderSeriesID = k.ProviderSeriesID
	}
	if item.Title == "" {
		item.Title = k.Title
	}
}

// Listener is told about ledger writes, e.g. to keep a search index current.
type Listener interface {
	HistoryUpdated(item *storage.HistoryItem)
	HistoryCleared()
}

// Ledger is the per-device reading history.
type Ledger struct {
	store     *storage.Store
	now       func() time.Time
	log       *debuglog.FieldLogger
	listeners []Listener
}

func New(store *storage.Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		log:   debuglog.Component("history"),
	}
}

func (l *Ledger) AddListener(ln Listener) {
	if ln != nil {
		l.listeners = append(l.listeners, ln)
	}
}

func (l *Ledger) notify(item *storage.HistoryItem) {
	for _, ln := range l.listeners {
		ln.HistoryUpdated(item)
	}
}

// GetItem returns the record for keys or storage.ErrNotFound.
func (l *Ledger) GetItem(keys Keys) (*storage.HistoryItem, error) {
	aliases := keys.aliases()
	if len(aliases) == 0 {
		return nil, storage.ErrNotFound
	}
	return l.store.FindHistory(aliases)
}

// Link registers every alias of keys on the record they resolve to. A series
// without a record is not an error.
func (l *Ledger) Link(keys Keys) error {
	_, err := l.GetItem(keys)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// GetReadChapters returns the read chapter ids, empty when nothing is known.
func (l *Ledger) GetReadChapters(keys Keys) ([]string, error) {
	item, err := l.GetItem(keys)
	if errors.Is(err, storage.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]string{}, item.ReadChapters...), nil
}

// All returns every record, most recent first.
func (l *Ledger) All() ([]*storage.HistoryItem, error) {
	return l.store.AllHistory()
}

// RecordOpen notes that ch was opened: it becomes the last-read pointer and
// joins the read set. The record is created on first open.
func (l *Ledger) RecordOpen(keys Keys, ch provider.Chapter, source string) (*storage.HistoryItem, error) {
	item, err := l.update(keys, func(item *storage.HistoryItem) error {
		item.LastChapterID = ch.ID
		item.LastChapterNumber = ch.Number
		item.LastChapterTitle = ch.Title
		item.LastReadAt = l.now()
		if source != "" {
			item.Source = source
		}
		addRead(item, ch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording chapter open: %w", err)
	}
	l.log.With("chapter", ch.ID).Debugf("opened %q", item.Title)
	return item, nil
}

// ToggleRead flips ch in or out of the read set and returns the new set.
func (l *Ledger) ToggleRead(keys Keys, ch provider.Chapter) ([]string, error) {
	item, err := l.update(keys, func(item *storage.HistoryItem) error {
		if hasRead(item, ch.ID) {
			removeRead(item, ch.ID)
		} else {
			addRead(item, ch)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("toggling chapter: %w", err)
	}
	return item.ReadChapters, nil
}

// MarkUpTo adds every chapter at or before targetID. Chapters are compared
// numerically; when the target's number cannot be parsed the list position
// decides, honoring whether the list runs ascending or descending.
func (l *Ledger) MarkUpTo(keys Keys, chapters []provider.Chapter, targetID string) ([]string, error) {
	selected, err := upTo(chapters, targetID)
	if err != nil {
		return nil, err
	}
	return l.markAll(keys, selected)
}

// MarkRange adds every chapter whose number lies in [from, to].
func (l *Ledger) MarkRange(keys Keys, chapters []provider.Chapter, from, to float64) ([]string, error) {
	return l.markAll(keys, inRange(chapters, from, to))
}

// SetReadThrough replaces the read set with the chapters numbered at or
// below n. This is the one operation besides clears that can shrink the set.
func (l *Ledger) SetReadThrough(keys Keys, chapters []provider.Chapter, n float64) ([]string, error) {
	selected := inRange(chapters, math.Inf(-1), n)
	item, err := l.update(keys, func(item *storage.HistoryItem) error {
		item.ReadChapters = nil
		item.Numbers = nil
		for _, ch := range selected {
			addRead(item, ch)
		}
		if last, ok := highest(selected); ok {
			item.LastChapterID = last.ID
			item.LastChapterNumber = last.Number
			item.LastChapterTitle = last.Title
		} else {
			clearPointer(item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setting read-through: %w", err)
	}
	return item.ReadChapters, nil
}

// ClearSeries empties the read set and drops the last-read pointer of the
// resolved record only.
func (l *Ledger) ClearSeries(keys Keys) error {
	aliases := keys.aliases()
	if len(aliases) == 0 {
		return nil
	}
	item, err := l.store.UpdateHistory(aliases, nil, func(item *storage.HistoryItem) error {
		item.ReadChapters = nil
		item.Numbers = nil
		clearPointer(item)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clearing series history: %w", err)
	}
	l.notify(item)
	return nil
}

// ClearAll drops the whole ledger.
func (l *Ledger) ClearAll() error {
	if err := l.store.ClearHistory(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	for _, ln := range l.listeners {
		ln.HistoryCleared()
	}
	return nil
}

// LocalProgress is the highest whole chapter number in the read set. ok is
// false when no record exists or no read chapter has a parsable number.
// It never registers aliases.
func (l *Ledger) LocalProgress(keys Keys) (int, bool, error) {
	aliases := keys.aliases()
	if len(aliases) == 0 {
		return 0, false, nil
	}
	item, err := l.store.LookupHistory(aliases)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	best, found := 0.0, false
	for _, id := range item.ReadChapters {
		if n, ok := ParseChapterNumber(item.Numbers[id]); ok && (!found || n > best) {
			best, found = n, true
		}
	}
	if !found {
		return 0, false, nil
	}
	return int(math.Floor(best)), true, nil
}

func (l *Ledger) markAll(keys Keys, chapters []provider.Chapter) ([]string, error) {
	item, err := l.update(keys, func(item *storage.HistoryItem) error {
		for _, ch := range chapters {
			addRead(item, ch)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("marking chapters: %w", err)
	}
	return item.ReadChapters, nil
}

func (l *Ledger) update(keys Keys, fn func(*storage.HistoryItem) error) (*storage.HistoryItem, error) {
	aliases := keys.aliases()
	if len(aliases) == 0 {
		return nil, fmt.Errorf("no keys to identify the series")
	}
	item, err := l.store.UpdateHistory(aliases, keys.newItem, func(item *storage.HistoryItem) error {
		keys.refresh(item)
		return fn(item)
	})
	if err != nil {
		return nil, err
	}
	l.notify(item)
	return item, nil
}

func hasRead(item *storage.HistoryItem, id string) bool {
	i := sort.SearchStrings(item.ReadChapters, id)
	return i < len(item.ReadChapters) && item.ReadChapters[i] == id
}

func addRead(item *storage.HistoryItem, ch provider.Chapter) {
	if ch.ID == "" {
		return
	}
	if ch.Number != "" {
		if item.Numbers == nil {
			item.Numbers = make(map[string]string)
		}
		item.Numbers[ch.ID] = ch.Number
	}
	if hasRead(item, ch.ID) {
		return
	}
	item.ReadChapters = append(item.ReadChapters, ch.ID)
	sort.Strings(item.ReadChapters)
}

func removeRead(item *storage.HistoryItem, id string) {
	i := sort.SearchStrings(item.ReadChapters, id)
	if i < len(item.ReadChapters) && item.ReadChapters[i] == id {
		item.ReadChapters = append(item.ReadChapters[:i], item.ReadChapters[i+1:]...)
	}
	delete(item.Numbers, id)
}

func clearPointer(item *storage.HistoryItem) {
	item.LastChapterID = ""
	item.LastChapterNumber = ""
	item.LastChapterTitle = ""
}
