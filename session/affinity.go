package session

import (
	"context"
	"fmt"
	"time"
)

// ContextSource yields the session context as a consumer observes it,
// typically by calling the session endpoint with caching disabled.
type ContextSource interface {
	SessionContext(ctx context.Context) (Context, error)
}

// AffinityConfig bounds the poll-until-confirmed loop of AwaitWorkspace.
// The defaults are conservative: short intervals, single-digit-second
// overall timeout.
type AffinityConfig struct {
	// InitialInterval is the delay between the first poll and the next.
	InitialInterval time.Duration
	// MaxInterval caps the backoff.
	MaxInterval time.Duration
	// Multiplier grows the interval after each poll.
	Multiplier float64
	// Timeout bounds the whole wait. Exceeding it yields ErrStaleSession.
	Timeout time.Duration
}

// DefaultAffinityConfig returns the standard poll bounds.
func DefaultAffinityConfig() AffinityConfig {
	return AffinityConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      1.5,
		Timeout:         5 * time.Second,
	}
}

func (c AffinityConfig) withDefaults() AffinityConfig {
	d := DefaultAffinityConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.Multiplier <= 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// AwaitWorkspace polls src until the observed session context reports
// workspaceID as active. It must be called after the switch write committed;
// it declares success only once a poll observes the new workspace.
//
// The wait is bounded: when cfg.Timeout elapses first, ErrStaleSession is
// returned and the caller must not proceed on the unconfirmed workspace.
// Cancelling ctx abandons the wait with ctx's error. Polling only reads, so
// abandonment has no side effects.
func AwaitWorkspace(ctx context.Context, src ContextSource, workspaceID string, cfg AffinityConfig) error {
	cfg = cfg.withDefaults()

	// The deadline binds the polls themselves, so a stalled source is
	// interrupted instead of holding the wait past the timeout.
	pollCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	interval := cfg.InitialInterval
	for {
		sc, err := src.SessionContext(pollCtx)
		if err == nil && sc.Workspace != nil && sc.Workspace.ID == workspaceID {
			return nil
		}
		// Poll errors are tolerated until the timeout: an unreachable
		// endpoint must surface as a stale session, not a silent pass.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pollCtx.Err() != nil {
			return fmt.Errorf("workspace %s not observed within %s: %w", workspaceID, cfg.Timeout, ErrStaleSession)
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-pollCtx.Done():
			wait.Stop()
			return fmt.Errorf("workspace %s not observed within %s: %w", workspaceID, cfg.Timeout, ErrStaleSession)
		case <-wait.C:
		}

		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}
