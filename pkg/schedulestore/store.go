// Package schedulestore is the durable per-VM ordered sequence of schedule
// entries (C3, spec.md §4.3): put replaces, get reads the full list,
// extend appends. Consumers poll get and compute their own delta.
package schedulestore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sandialabs/firewheel/pkg/schedule"
	bolt "go.etcd.io/bbolt"
)

var bucketSchedules = []byte("schedules")

// Store is a bbolt-backed key-value store mapping VM name to its full
// ordered Schedule Entry list, generalizing the teacher's bucket-per-entity
// pattern from one-entity-per-key to one-list-per-key.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the schedule database at dataDir/schedules.db.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "schedules.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening schedule store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSchedules)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schedule store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put replaces the entire schedule for name.
func (s *Store) Put(name string, entries []schedule.Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling schedule for %s: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(name), data)
	})
}

// Get returns the full schedule for name, or an empty slice if none exists.
func (s *Store) Get(name string) ([]schedule.Entry, error) {
	var entries []schedule.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(name))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("reading schedule for %s: %w", name, err)
	}
	return entries, nil
}

// Extend appends entries to the existing schedule for name, preserving
// order. A consumer that observed length n and later observes length n+k
// will see exactly those k entries appended in the same positions.
func (s *Store) Extend(name string, entries []schedule.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		var existing []schedule.Entry
		if data := b.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshaling existing schedule for %s: %w", name, err)
			}
		}
		existing = append(existing, entries...)
		data, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("marshaling extended schedule for %s: %w", name, err)
		}
		return b.Put([]byte(name), data)
	})
}
