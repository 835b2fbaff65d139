package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxKeys  = 10000
	defaultGCEvery  = time.Minute
	retentionFactor = 2
)

type memoryEntry struct {
	count       int
	windowStart time.Time
	resetAt     time.Time
}

// MemoryStore is a bounded in-process Store. It holds at most maxKeys
// entries: inserting beyond the ceiling evicts the entry with the oldest
// window, and a background reaper removes entries idle past
// window*retentionFactor. Growth is never unbounded.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	maxKeys int
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxKeys sets the hard capacity ceiling.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a bounded in-process store and starts its reaper.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.reapLoop()
	return s
}

// Close stops the background reaper.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		if !ok && len(s.entries) >= s.maxKeys {
			s.evictOldestLocked()
		}
		e = &memoryEntry{count: 0, windowStart: now, resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.resetAt, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.resetAt) {
		return 0, time.Time{}, nil
	}
	return e.count, e.resetAt, nil
}

// evictOldestLocked removes the entry with the oldest window start.
func (s *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.windowStart.Before(oldest) {
			oldestKey = k
			oldest = e.windowStart
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

func (s *MemoryStore) reapLoop() {
	ticker := time.NewTicker(defaultGCEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap removes entries whose window ended at least one full window length
// ago. Freshly expired entries stay until the next sweep, which keeps a key
// that is being hammered from churning through the map.
func (s *MemoryStore) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		window := e.resetAt.Sub(e.windowStart)
		if now.After(e.windowStart.Add(window * retentionFactor)) {
			delete(s.entries, k)
		}
	}
}

// len reports the current entry count, for tests.
func (s *MemoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
