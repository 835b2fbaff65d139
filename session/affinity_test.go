package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedSource returns a fixed sequence of contexts, repeating the last
// one once the script is exhausted.
type scriptedSource struct {
	script []Context
	calls  atomic.Int64
}

func (s *scriptedSource) SessionContext(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return Context{}, err
	}
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.script) {
		n = len(s.script) - 1
	}
	return s.script[n], nil
}

func withWorkspace(id string) Context {
	return Context{Authenticated: true, Workspace: &WorkspaceInfo{ID: id}}
}

func fastAffinity() AffinityConfig {
	return AffinityConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      1.5,
		Timeout:         250 * time.Millisecond,
	}
}

func TestAwaitWorkspaceConfirms(t *testing.T) {
	src := &scriptedSource{script: []Context{
		withWorkspace("w1"),
		withWorkspace("w1"),
		withWorkspace("w2"),
	}}

	err := AwaitWorkspace(context.Background(), src, "w2", fastAffinity())
	if err != nil {
		t.Fatalf("AwaitWorkspace failed: %v", err)
	}
	if src.calls.Load() < 3 {
		t.Errorf("expected at least 3 polls, got %d", src.calls.Load())
	}
}

func TestAwaitWorkspaceImmediate(t *testing.T) {
	src := &scriptedSource{script: []Context{withWorkspace("w2")}}
	err := AwaitWorkspace(context.Background(), src, "w2", fastAffinity())
	if err != nil {
		t.Fatalf("AwaitWorkspace failed: %v", err)
	}
	if src.calls.Load() != 1 {
		t.Errorf("expected a single poll, got %d", src.calls.Load())
	}
}

func TestAwaitWorkspaceTimesOutStale(t *testing.T) {
	src := &scriptedSource{script: []Context{withWorkspace("w1")}}

	start := time.Now()
	err := AwaitWorkspace(context.Background(), src, "w2", fastAffinity())
	if !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("wait was not bounded: %s", elapsed)
	}
}

func TestAwaitWorkspaceStalledSourceTimesOut(t *testing.T) {
	// A source that never answers until its context ends. The overall
	// timeout must interrupt the in-flight poll, not just the sleeps
	// between polls.
	stalled := contextSourceFunc(func(ctx context.Context) (Context, error) {
		<-ctx.Done()
		return Context{}, ctx.Err()
	})

	start := time.Now()
	err := AwaitWorkspace(context.Background(), stalled, "w2", fastAffinity())
	if !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("wait was not bounded: %s", elapsed)
	}
}

func TestAwaitWorkspaceStalledSourceCancelled(t *testing.T) {
	stalled := contextSourceFunc(func(ctx context.Context) (Context, error) {
		<-ctx.Done()
		return Context{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	cfg := fastAffinity()
	cfg.Timeout = 10 * time.Second
	err := AwaitWorkspace(ctx, stalled, "w2", cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAwaitWorkspaceToleratesPollErrors(t *testing.T) {
	var calls atomic.Int64
	flaky := contextSourceFunc(func(ctx context.Context) (Context, error) {
		if calls.Add(1) < 3 {
			return Context{}, errors.New("endpoint unavailable")
		}
		return withWorkspace("w2"), nil
	})

	if err := AwaitWorkspace(context.Background(), flaky, "w2", fastAffinity()); err != nil {
		t.Fatalf("AwaitWorkspace failed: %v", err)
	}
}

func TestAwaitWorkspaceCancelled(t *testing.T) {
	src := &scriptedSource{script: []Context{withWorkspace("w1")}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	cfg := fastAffinity()
	cfg.Timeout = 10 * time.Second
	err := AwaitWorkspace(ctx, src, "w2", cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAwaitWorkspaceAnonymousNeverConfirms(t *testing.T) {
	src := &scriptedSource{script: []Context{Anonymous()}}
	err := AwaitWorkspace(context.Background(), src, "w2", fastAffinity())
	if !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
}

// contextSourceFunc adapts a function to ContextSource.
type contextSourceFunc func(ctx context.Context) (Context, error)

func (f contextSourceFunc) SessionContext(ctx context.Context) (Context, error) {
	return f(ctx)
}
