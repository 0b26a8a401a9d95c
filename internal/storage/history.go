package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Ledger records are stored once under a uuid; every key a caller may know
// the series by (ids, normalized title) is an alias row pointing at it.

// resolveAlias returns the record id of the first alias that points at a
// live record.
func resolveAlias(tx *bolt.Tx, aliases []string) ([]byte, []byte) {
	aliasBucket := tx.Bucket(historyAliasBucket)
	items := tx.Bucket(historyBucket)
	for _, alias := range aliases {
		id := aliasBucket.Get([]byte(alias))
		if id == nil {
			continue
		}
		if data := items.Get(id); data != nil {
			return append([]byte(nil), id...), data
		}
	}
	return nil, nil
}

// linkAliases binds aliases that are unbound or point at a deleted record.
// Aliases owned by another live record are left alone.
func linkAliases(tx *bolt.Tx, id []byte, aliases []string) error {
	aliasBucket := tx.Bucket(historyAliasBucket)
	items := tx.Bucket(historyBucket)
	for _, alias := range aliases {
		current := aliasBucket.Get([]byte(alias))
		if current != nil && items.Get(current) != nil {
			continue
		}
		if err := aliasBucket.Put([]byte(alias), id); err != nil {
			return err
		}
	}
	return nil
}

// FindHistory resolves aliases in order and registers the remaining aliases
// on the record it finds.
func (s *Store) FindHistory(aliases []string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		id, data := resolveAlias(tx, aliases)
		if id == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decoding history item: %w", err)
		}
		return linkAliases(tx, id, aliases)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// LookupHistory resolves aliases in order without registering any of them.
func (s *Store) LookupHistory(aliases []string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.View(func(tx *bolt.Tx) error {
		_, data := resolveAlias(tx, aliases)
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decoding history item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateHistory resolves aliases, applies fn and saves the result in one
// transaction. When nothing resolves and create is non-nil, a new record from
// create() is used; otherwise ErrNotFound is returned and fn is not called.
func (s *Store) UpdateHistory(aliases []string, create func() *HistoryItem, fn func(*HistoryItem) error) (*HistoryItem, error) {
	var item *HistoryItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		id, data := resolveAlias(tx, aliases)
		if id == nil {
			if create == nil {
				return ErrNotFound
			}
			item = create()
			item.ID = uuid.NewString()
			id = []byte(item.ID)
		} else {
			item = &HistoryItem{}
			if err := json.Unmarshal(data, item); err != nil {
				return fmt.Errorf("decoding history item: %w", err)
			}
		}

		if err := fn(item); err != nil {
			return err
		}
		item.UpdatedAt = s.now()

		encoded, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := tx.Bucket(historyBucket).Put(id, encoded); err != nil {
			return err
		}
		return linkAliases(tx, id, aliases)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AllHistory returns every ledger record, most recently read first.
func (s *Store) AllHistory() ([]*HistoryItem, error) {
	var items []*HistoryItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).ForEach(func(k, v []byte) error {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decoding history item %s: %w", k, err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].LastReadAt.Equal(items[j].LastReadAt) {
			return items[i].LastReadAt.After(items[j].LastReadAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// ClearHistory drops every ledger record and alias.
func (s *Store) ClearHistory() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{historyBucket, historyAliasBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
