// Package store persists state transitions, watering sessions and telemetry
// readings in a local bbolt database.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Bucket names.
const (
	StateBucket    = "system_state"
	SessionBucket  = "watering_sessions"
	ReadingsBucket = "readings"
)

// ErrNotFound is returned when a bucket or key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is a bbolt-backed recorder. Records are keyed by the bucket's
// sequence number, so iteration order is insertion order.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path and makes sure every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db}
	for _, b := range []string{StateBucket, SessionBucket, ReadingsBucket} {
		if err := s.CreateBucket(b); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateBucket creates bucket if it does not exist.
func (s *Store) CreateBucket(bucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return nil
	})
}

// Create stores v under the next sequence id of bucket and returns the id.
func (s *Store) Create(bucket string, v interface{}) (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		id = strconv.FormatUint(seq, 10)
		return b.Put(itob(seq), data)
	})
	return id, err
}

// Reverse calls fn for each record of bucket from newest to oldest until fn
// returns false.
func (s *Store) Reverse(bucket string, fn func(id string, v []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if !fn(strconv.FormatUint(btoi(k), 10), v) {
				return nil
			}
		}
		return nil
	})
}

// RecordState appends a state transition.
func (s *Store) RecordState(rec logic.StateRecord) error {
	_, err := s.Create(StateBucket, rec)
	return err
}

// RecordSession appends a watering session.
func (s *Store) RecordSession(sess logic.Session) error {
	_, err := s.Create(SessionBucket, sess)
	return err
}

// RecordReading appends a telemetry reading.
func (s *Store) RecordReading(r logic.Reading) error {
	_, err := s.Create(ReadingsBucket, r)
	return err
}

// LastState returns the most recent state transition.
func (s *Store) LastState() (logic.StateRecord, error) {
	recs, err := s.LatestStates(1)
	if err != nil {
		return logic.StateRecord{}, err
	}
	if len(recs) == 0 {
		return logic.StateRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// LatestStates returns up to n transitions, newest first.
func (s *Store) LatestStates(n int) ([]logic.StateRecord, error) {
	var out []logic.StateRecord
	err := latest(s, StateBucket, n, func(v []byte) (bool, error) {
		var r logic.StateRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	return out, err
}

// LatestSessions returns up to n sessions, newest first.
func (s *Store) LatestSessions(n int) ([]logic.Session, error) {
	var out []logic.Session
	err := latest(s, SessionBucket, n, func(v []byte) (bool, error) {
		var r logic.Session
		if err := json.Unmarshal(v, &r); err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	return out, err
}

// LatestReadings returns up to n readings of kind, newest first. An empty
// kind matches every reading.
func (s *Store) LatestReadings(kind logic.ReadingKind, n int) ([]logic.Reading, error) {
	var out []logic.Reading
	err := latest(s, ReadingsBucket, n, func(v []byte) (bool, error) {
		var r logic.Reading
		if err := json.Unmarshal(v, &r); err != nil {
			return false, err
		}
		if kind != "" && r.Kind != kind {
			return false, nil
		}
		out = append(out, r)
		return true, nil
	})
	return out, err
}

// latest walks bucket newest first; decode reports whether the value counted.
func latest(s *Store, bucket string, n int, decode func(v []byte) (bool, error)) error {
	var decodeErr error
	count := 0
	err := s.Reverse(bucket, func(id string, v []byte) bool {
		if n > 0 && count >= n {
			return false
		}
		ok, err := decode(v)
		if err != nil {
			decodeErr = fmt.Errorf("decode %s/%s: %w", bucket, id, err)
			return false
		}
		if ok {
			count++
		}
		return true
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// Prune keeps the newest keep records of bucket and deletes the rest.
func (s *Store) Prune(bucket string, keep int) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		c := b.Cursor()
		seen := 0
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen <= keep {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
