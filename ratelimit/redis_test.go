package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, NewRedisStore(client)
}

func TestRedisStoreBlocksOverBudget(t *testing.T) {
	_, store := newTestRedis(t)
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
	if !d.ResetAt.After(time.Now()) {
		t.Fatalf("resetAt %v should be in the future", d.ResetAt)
	}
}

func TestRedisStoreWindowReset(t *testing.T) {
	mr, store := newTestRedis(t)
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

	mr.FastForward(time.Minute + time.Second)

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
}

// Two stores pointing at the same Redis must enforce one shared budget, the
// multi-instance deployment case an in-process map cannot cover.
func TestRedisStoreSharedAcrossInstances(t *testing.T) {
	mr, storeA := newTestRedis(t)
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })
	storeB := NewRedisStore(clientB)

	limiterA := NewLimiter(storeA, 5, time.Minute)
	limiterB := NewLimiter(storeB, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiterA.RecordAttempt(ctx, "shared"); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := limiterB.RecordAttempt(ctx, "shared"); err != nil {
			t.Fatal(err)
		}
	}

	d, err := limiterB.RecordAttempt(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("sixth attempt across instances should be blocked")
	}

	dA, err := limiterA.Check(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if dA.Allowed || dA.Remaining != 0 {
		t.Fatalf("instance A decision = %+v, want blocked with 0 remaining", dA)
	}
}

func TestRedisStorePeek(t *testing.T) {
	_, store := newTestRedis(t)
	ctx := context.Background()

	count, resetAt, err := store.Peek(ctx, "unseen")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 || !resetAt.IsZero() {
		t.Fatalf("unseen key = (%d, %v), want (0, zero)", count, resetAt)
	}

	if _, _, err := store.Incr(ctx, "seen", time.Minute); err != nil {
		t.Fatal(err)
	}
	count, resetAt, err = store.Peek(ctx, "seen")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if !resetAt.After(time.Now()) {
		t.Fatalf("resetAt %v should be in the future", resetAt)
	}

	// Peek must not count as an attempt.
	count, _, err = store.Peek(ctx, "seen")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count after second peek = %d, want 1", count)
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	store := NewRedisStore(client, WithKeyPrefix("gatehouse:login:"))

	if _, _, err := store.Incr(context.Background(), "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("gatehouse:login:k") {
		t.Fatal("counter should live under the configured prefix")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, store := newTestRedis(t)
	mr.Close()

	if _, _, err := store.Incr(context.Background(), "k", time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Incr err = %v, want ErrStoreUnavailable", err)
	}
	if _, _, err := store.Peek(context.Background(), "k"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Peek err = %v, want ErrStoreUnavailable", err)
	}
}
