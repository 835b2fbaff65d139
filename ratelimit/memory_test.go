package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newFixedClockStore(t *testing.T, start time.Time, opts ...MemoryOption) (*MemoryStore, *time.Time) {
	t.Helper()
	current := start
	opts = append(opts, WithClock(func() time.Time { return current }))
	store := NewMemoryStore(opts...)
	t.Cleanup(store.Close)
	return store, &current
}

func TestLimiterBlocksOverBudget(t *testing.T) {
	start := time.Unix(1700000000, 0)
	store, _ := newFixedClockStore(t, start)
	limiter := NewLimiter(store, 5, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := limiter.RecordAttempt(ctx, "10.0.0.1:admin")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should be within budget", i)
		}
		if d.Remaining != 5-i {
			t.Fatalf("attempt %d remaining = %d, want %d", i, d.Remaining, 5-i)
		}
	}

	d, err := limiter.RecordAttempt(ctx, "10.0.0.1:admin")
	if err != nil {
		t.Fatalf("sixth attempt: %v", err)
	}
	if d.Allowed {
		t.Fatal("sixth attempt should be blocked")
	}
	if d.Remaining != 0 {
		t.Fatalf("blocked remaining = %d, want 0", d.Remaining)
	}
	if !d.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("resetAt = %v, want %v", d.ResetAt, start.Add(time.Minute))
	}
}

func TestLimiterWindowReset(t *testing.T) {
	start := time.Unix(1700000000, 0)
	store, current := newFixedClockStore(t, start)
	limiter := NewLimiter(store, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.RecordAttempt(ctx, "k"); err != nil {
			t.Fatal(err)
		}
	}
	if d, _ := limiter.RecordAttempt(ctx, "k"); d.Allowed {
		t.Fatal("expected key to be blocked")
	}

	*current = start.Add(time.Minute + time.Second)
	d, err := limiter.RecordAttempt(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("attempt after window end should be allowed")
	}
	if d.Remaining != 1 {
		t.Fatalf("fresh window remaining = %d, want 1", d.Remaining)
	}
	if !d.ResetAt.Equal(current.Add(time.Minute)) {
		t.Fatalf("fresh window resetAt = %v, want %v", d.ResetAt, current.Add(time.Minute))
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	store, _ := newFixedClockStore(t, time.Unix(1700000000, 0))
	limiter := NewLimiter(store, 5, time.Minute)
	ctx := context.Background()

	if _, err := limiter.RecordAttempt(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if d.Remaining != 4 {
			t.Fatalf("check %d remaining = %d, want 4", i, d.Remaining)
		}
	}
	d, err := limiter.RecordAttempt(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if d.Remaining != 3 {
		t.Fatalf("after checks remaining = %d, want 3", d.Remaining)
	}
}

func TestCheckBlocksExhaustedBudget(t *testing.T) {
	start := time.Unix(1700000000, 0)
	store, current := newFixedClockStore(t, start)
	limiter := NewLimiter(store, 5, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := limiter.RecordAttempt(ctx, "10.0.0.1:admin"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	d, err := limiter.Check(ctx, "10.0.0.1:admin")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("exhausted budget should report Allowed=false on Check")
	}
	if d.Remaining != 0 {
		t.Fatalf("exhausted remaining = %d, want 0", d.Remaining)
	}
	if !d.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("resetAt = %v, want %v", d.ResetAt, start.Add(time.Minute))
	}

	*current = start.Add(time.Minute + time.Second)
	d, err = limiter.Check(ctx, "10.0.0.1:admin")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("check after window end should be allowed again")
	}
}

func TestCheckUnknownKey(t *testing.T) {
	store, _ := newFixedClockStore(t, time.Unix(1700000000, 0))
	limiter := NewLimiter(store, 5, time.Minute)

	d, err := limiter.Check(context.Background(), "never-seen")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Remaining != 5 {
		t.Fatalf("unknown key decision = %+v, want full budget", d)
	}
	if d.ResetAt.IsZero() {
		t.Fatal("unknown key should still report a reset horizon")
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	start := time.Unix(1700000000, 0)
	store, current := newFixedClockStore(t, start, WithMaxKeys(2))
	ctx := context.Background()

	if _, _, err := store.Incr(ctx, "a", time.Hour); err != nil {
		t.Fatal(err)
	}
	*current = start.Add(time.Second)
	if _, _, err := store.Incr(ctx, "b", time.Hour); err != nil {
		t.Fatal(err)
	}
	*current = start.Add(2 * time.Second)
	if _, _, err := store.Incr(ctx, "c", time.Hour); err != nil {
		t.Fatal(err)
	}

	if got := store.len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
	if count, _, _ := store.Peek(ctx, "a"); count != 0 {
		t.Fatalf("oldest key should be evicted, got count %d", count)
	}
	if count, _, _ := store.Peek(ctx, "c"); count != 1 {
		t.Fatalf("newest key count = %d, want 1", count)
	}
}

func TestMemoryStoreReap(t *testing.T) {
	start := time.Unix(1700000000, 0)
	store, current := newFixedClockStore(t, start)
	ctx := context.Background()

	if _, _, err := store.Incr(ctx, "stale", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Incr(ctx, "fresh", time.Hour); err != nil {
		t.Fatal(err)
	}

	*current = start.Add(3 * time.Minute)
	store.reap()

	if got := store.len(); got != 1 {
		t.Fatalf("len after reap = %d, want 1", got)
	}
	if count, _, _ := store.Peek(ctx, "fresh"); count != 1 {
		t.Fatal("entry inside its window must survive the reaper")
	}
}

func TestMemoryStoreConcurrentIncr(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := store.Incr(ctx, "shared", time.Hour); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	count, _, err := store.Peek(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 {
		t.Fatalf("count = %d, want 50", count)
	}
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, ErrStoreUnavailable
}

func (failingStore) Peek(context.Context, string) (int, time.Time, error) {
	return 0, time.Time{}, ErrStoreUnavailable
}

func TestLimiterPropagatesStoreFailure(t *testing.T) {
	limiter := NewLimiter(failingStore{}, 5, time.Minute)

	if _, err := limiter.RecordAttempt(context.Background(), "k"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("RecordAttempt err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := limiter.Check(context.Background(), "k"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Check err = %v, want ErrStoreUnavailable", err)
	}
}
