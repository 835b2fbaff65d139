package session

import (
	"sync"
	"time"

	"github.com/pbartlett/gatehouse/internal/util"
)

// sessionTokenBytes is the entropy carried by a session token (hex encoded
// on the wire).
const sessionTokenBytes = 32

// Record is the server-side state behind one session credential. The token
// itself is the store key and never appears in the record.
type Record struct {
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Store abstracts session credential storage so sessions can live in memory
// (default) or in persistent backing storage.
type Store interface {
	// Get retrieves a session by token. Returns false if the session does
	// not exist, has expired, or has exceeded the idle timeout.
	Get(token string) (Record, bool)
	// Put creates or updates a session for the given token.
	Put(token string, rec Record)
	// Delete removes a session by token.
	Delete(token string)
}

// Issue mints a fresh credential for userID and stores its record. It is the
// integration point for the external provider-authentication layer: after a
// provider verifies an identity, the host application links the identity and
// calls Issue.
func Issue(store Store, userID, provider string, ttl time.Duration) (string, Record, error) {
	token, err := util.RandomToken(sessionTokenBytes)
	if err != nil {
		return "", Record{}, err
	}
	now := time.Now()
	rec := Record{
		UserID:         userID,
		Provider:       provider,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
	store.Put(token, rec)
	return token, rec, nil
}

// MemoryStore is a thread-safe in-memory Store. Sessions are lost on server
// restart.
type MemoryStore struct {
	mu          sync.RWMutex
	data        map[string]Record
	idleTimeout time.Duration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory session store. idleTimeout of 0
// disables idle timeout checking.
func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]Record),
		idleTimeout: idleTimeout,
	}
}

func (s *MemoryStore) Get(token string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
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

func (s *MemoryStore) Put(token string, rec Record) {
	s.mu.Lock()
	s.data[token] = rec
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}
