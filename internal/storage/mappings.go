package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

func mappingKey(catalogID int, provider string) []byte {
	return []byte(strconv.Itoa(catalogID) + "|" + provider)
}

func reverseKey(provider, providerID string) []byte {
	return []byte(provider + "|" + providerID)
}

// PutMapping upserts the mapping for (CatalogID, Provider). Replacing a
// mapping drops the previous provider id from the reverse index. CreatedAt is
// kept across updates that keep the same provider id.
func (s *Store) PutMapping(m *Mapping) error {
	if m.Provider == "" || m.ProviderID == "" {
		return fmt.Errorf("mapping needs provider and provider id")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		forward := tx.Bucket(mappingsBucket)
		reverse := tx.Bucket(mappingReverseBucket)
		key := mappingKey(m.CatalogID, m.Provider)

		now := s.now()
		m.UpdatedAt = now
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}

		if data := forward.Get(key); data != nil {
			var prev Mapping
			if err := json.Unmarshal(data, &prev); err != nil {
				return fmt.Errorf("decoding previous mapping: %w", err)
			}
			if prev.ProviderID == m.ProviderID {
				m.CreatedAt = prev.CreatedAt
			} else {
				old := reverseKey(prev.Provider, prev.ProviderID)
				// another catalog entry may have claimed the old id since
				if bytes.Equal(reverse.Get(old), key) {
					if err := reverse.Delete(old); err != nil {
						return err
					}
				}
			}
		}

		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := forward.Put(key, data); err != nil {
			return err
		}
		return reverse.Put(reverseKey(m.Provider, m.ProviderID), key)
	})
}

// MappingByCatalog returns the active mapping of catalogID on provider.
func (s *Store) MappingByCatalog(catalogID int, provider string) (*Mapping, error) {
	var m Mapping
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(mappingsBucket).Get(mappingKey(catalogID, provider))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("mapping %d on %s: %w", catalogID, provider, err)
	}
	return &m, nil
}

// MappingByProvider resolves a provider entry back to its catalog mapping.
func (s *Store) MappingByProvider(providerID, provider string) (*Mapping, error) {
	var m Mapping
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(mappingReverseBucket).Get(reverseKey(provider, providerID))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(mappingsBucket).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("mapping for %s on %s: %w", providerID, provider, err)
	}
	return &m, nil
}

// MappingsForCatalog lists every provider mapped to catalogID, by provider name.
func (s *Store) MappingsForCatalog(catalogID int) ([]*Mapping, error) {
	prefix := []byte(strconv.Itoa(catalogID) + "|")
	var mappings []*Mapping
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(mappingsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var m Mapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			mappings = append(mappings, &m)
		}
		return nil
	})
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].Provider < mappings[j].Provider })
	return mappings, err
}

// AllMappings returns every mapping, ordered by catalog id then provider.
func (s *Store) AllMappings() ([]*Mapping, error) {
	var mappings []*Mapping
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mappingsBucket).ForEach(func(k, v []byte) error {
			var m Mapping
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decoding mapping %s: %w", k, err)
			}
			mappings = append(mappings, &m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].CatalogID != mappings[j].CatalogID {
			return mappings[i].CatalogID < mappings[j].CatalogID
		}
		return mappings[i].Provider < mappings[j].Provider
	})
	return mappings, nil
}
