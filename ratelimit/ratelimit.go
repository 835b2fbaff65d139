// Package ratelimit bounds authentication attempts per key within a fixed
// window. Counting happens behind a pluggable Store so a deployment can pick
// a bounded in-process map or a shared Redis backend without touching call
// sites.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps backend failures. Authentication endpoints treat
// it as a denial (fail closed), never as an allowance.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Default policy for login endpoints.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
)

// Decision is the outcome of checking a key against the limit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store is the attempt counter backend. Incr must be atomic per key: two
// concurrent increments may never both observe the same count.
type Store interface {
	// Incr records an attempt for key, starting a fresh window of the
	// given length if none is active, and returns the resulting count and
	// when the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Peek returns the current count without recording an attempt. A key
	// with no active window reports count 0 and a zero resetAt.
	Peek(ctx context.Context, key string) (count int, resetAt time.Time, err error)
}

// Limiter applies a maxAttempts-per-window policy over a Store.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter allowing limit attempts per window.
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// RecordAttempt counts one attempt against key and reports whether it was
// within budget. Increment and check are a single store operation, so two
// concurrent callers cannot both slip under the limit.
func (l *Limiter) RecordAttempt(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("recording attempt: %w", err)
	}
	return l.decision(count, true, resetAt), nil
}

// Check reports the current budget for key without consuming an attempt.
// Once limit attempts are recorded in the window it reports Allowed=false
// until the window resets.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Peek(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("checking attempts: %w", err)
	}
	if resetAt.IsZero() {
		resetAt = time.Now().Add(l.window)
	}
	return l.decision(count, false, resetAt), nil
}

// decision interprets a window count. counted says whether the count already
// includes the caller's own attempt: RecordAttempt judges its post-increment
// count, while Check judges whether one more attempt would still fit.
func (l *Limiter) decision(count int, counted bool, resetAt time.Time) Decision {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	allowed := count < l.limit
	if counted {
		allowed = count <= l.limit
	}
	return Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
