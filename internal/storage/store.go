package storage

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("not found")

var (
	mappingsBucket       = []byte("mappings")
	mappingReverseBucket = []byte("mapping_reverse")
	historyBucket        = []byte("history")
	historyAliasBucket   = []byte("history_aliases")
)

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// NewStore opens (creating if needed) the bbolt file at dbPath. timeout bounds
// the wait for the file lock; zero means one second.
func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{mappingsBucket, mappingReverseBucket, historyBucket, historyAliasBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}
