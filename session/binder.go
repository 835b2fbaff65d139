package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pbartlett/gatehouse/identity"
)

// Binder is the single ownership point for active-workspace bindings. All
// workspace switches flow through Bind; no other component may call
// identity.Store.SetActiveWorkspace, so two writers can never race for the
// same identity.
type Binder struct {
	ids identity.Store
	mu  sync.Mutex
}

// NewBinder creates the binder over the given identity store.
func NewBinder(ids identity.Store) *Binder {
	return &Binder{ids: ids}
}

// Bind commits workspaceID as the active workspace for userID after
// validating membership. Returns ErrNotMember when the user does not belong
// to the workspace and identity.ErrNotFound when the workspace does not
// exist. Concurrent binds are serialized.
func (b *Binder) Bind(ctx context.Context, userID, workspaceID string) (identity.Workspace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ws, err := b.ids.Workspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Workspace{}, err
		}
		return identity.Workspace{}, fmt.Errorf("loading workspace: %w", err)
	}

	if _, err := b.ids.Membership(ctx, workspaceID, userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Workspace{}, fmt.Errorf("user %s in workspace %s: %w", userID, workspaceID, ErrNotMember)
		}
		return identity.Workspace{}, fmt.Errorf("loading membership: %w", err)
	}

	if err := b.ids.SetActiveWorkspace(ctx, userID, workspaceID); err != nil {
		return identity.Workspace{}, fmt.Errorf("committing workspace binding: %w", err)
	}
	return ws, nil
}
