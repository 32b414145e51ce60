package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DatabaseFile is the journal file name inside the data directory
const DatabaseFile = "kros.db"

var bucketCollections = []byte("collections")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the journal in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCollections); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCollections, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores a record, replacing any record with the same id
func (s *BoltStore) Put(record *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
}

// Get returns the record for an envelope id
func (s *BoltStore) Get(id string) (*Record, error) {
	var record Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns every record ordered by collection time
func (s *BoltStore) List() ([]*Record, error) {
	return s.list(func(*Record) bool { return true })
}

// ListFailures returns records of envelopes retired without arbitration
func (s *BoltStore) ListFailures() ([]*Record, error) {
	return s.list(func(r *Record) bool { return r.DeliveryFailed })
}

func (s *BoltStore) list(keep func(*Record) bool) ([]*Record, error) {
	var records []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		return b.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if keep(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CollectedAt.Before(records[j].CollectedAt)
	})
	return records, nil
}

// Count returns the number of records
func (s *BoltStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketCollections).Stats().KeyN
		return nil
	})
	return n, err
}
