package session

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const boltCleanupInterval = 5 * time.Minute

var bucketSessions = []byte("sessions")

// BoltStore stores session records in a BBolt bucket so sessions survive
// server restarts. Tokens are stored as SHA-256 digests: a copy of the
// database alone does not yield usable credentials.
type BoltStore struct {
	db          *bbolt.DB
	idleTimeout time.Duration
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore creates a session store backed by the given BBolt database.
// idleTimeout of 0 disables idle timeout checking.
func NewBoltStore(db *bbolt.DB, idleTimeout time.Duration) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating session bucket: %w", err)
	}
	s := &BoltStore{
		db:          db,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine. The database is owned by the
// caller and stays open.
func (s *BoltStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func tokenDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func (s *BoltStore) Get(token string) (Record, bool) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get(tokenDigest(token))
		if data == nil {
			return fmt.Errorf("no session")
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false
	}
	if time.Now().After(rec.ExpiresAt) {
		s.Delete(token)
		return Record{}, false
	}
	if s.idleTimeout > 0 && time.Since(rec.LastAccessedAt) > s.idleTimeout {
		s.Delete(token)
		return Record{}, false
	}
	return rec, true
}

func (s *BoltStore) Put(token string, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put(tokenDigest(token), data)
	})
}

func (s *BoltStore) Delete(token string) {
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete(tokenDigest(token))
	})
}

// cleanupLoop periodically removes expired session records.
func (s *BoltStore) cleanupLoop() {
	ticker := time.NewTicker(boltCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *BoltStore) sweepExpired() {
	now := time.Now()
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				// Corrupt entry, remove it.
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			expired := now.After(rec.ExpiresAt)
			idle := s.idleTimeout > 0 && now.Sub(rec.LastAccessedAt) > s.idleTimeout
			if expired || idle {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
