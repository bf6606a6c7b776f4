// Package storage provides persistent storage for the court pricer. It uses BoltDB
// to keep labelled bookings collected for training and the versioned model
// artifacts produced from them.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"court-pricer/internal/dataset"

	"go.etcd.io/bbolt"
)

const (
	bookingsBucket = "bookings" // labelled bookings, keyed by insertion sequence
	modelsBucket   = "models"   // encoded model artifacts, keyed by model id
	metaBucket     = "meta"     // registry bookkeeping

	versionsKey = "model_versions"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistent storage using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, "court-pricer.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bookingsBucket, modelsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// StoreBookings appends labelled bookings in a single transaction.
func (s *Store) StoreBookings(samples []dataset.Sample) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bookingsBucket))
		for _, sample := range samples {
			data, err := json.Marshal(sample)
			if err != nil {
				return fmt.Errorf("marshal booking: %w", err)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(sequenceKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreBooking appends one labelled booking.
func (s *Store) StoreBooking(sample dataset.Sample) error {
	return s.StoreBookings([]dataset.Sample{sample})
}

// GetBookings returns every stored booking in insertion order.
func (s *Store) GetBookings() ([]dataset.Sample, error) {
	var samples []dataset.Sample
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bookingsBucket)).ForEach(func(k, v []byte) error {
			var sample dataset.Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("booking %d: %w", binary.BigEndian.Uint64(k), err)
			}
			samples = append(samples, sample)
			return nil
		})
	})
	return samples, err
}

// CountBookings returns the number of stored bookings.
func (s *Store) CountBookings() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bookingsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// PutModel stores an artifact and the updated version list together, so the registry
// never references a model that was not written.
func (s *Store) PutModel(id string, artifact, versions []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(modelsBucket)).Put([]byte(id), artifact); err != nil {
			return fmt.Errorf("put model %s: %w", id, err)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(versionsKey), versions)
	})
}

// GetModel returns the encoded artifact stored under id.
func (s *Store) GetModel(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(modelsBucket)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("model %s: %w", id, ErrNotFound)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// PutVersions replaces the stored version list.
func (s *Store) PutVersions(versions []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(versionsKey), versions)
	})
}

// GetVersions returns the stored version list, or nil when none was written yet.
func (s *Store) GetVersions() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(metaBucket)).Get([]byte(versionsKey)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
