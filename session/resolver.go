package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbartlett/gatehouse/identity"
)

// Resolver derives a Context from a session credential. Every call performs
// fresh identity lookups; results are never cached, so a resolve issued
// after a committed workspace switch always reflects that write or a newer
// one.
type Resolver struct {
	sessions Store
	ids      identity.Store
}

// NewResolver creates a Resolver over the given credential store and
// identity store.
func NewResolver(sessions Store, ids identity.Store) *Resolver {
	return &Resolver{sessions: sessions, ids: ids}
}

// Resolve returns the session context for the given credential token. A
// missing, unknown or expired token yields the anonymous context, not an
// error. Resolve only reads; it commits no state.
func (r *Resolver) Resolve(ctx context.Context, token string) (Context, error) {
	if token == "" {
		return Anonymous(), nil
	}
	rec, ok := r.sessions.Get(token)
	if !ok {
		return Anonymous(), nil
	}

	user, err := r.ids.User(ctx, rec.UserID)
	if errors.Is(err, identity.ErrNotFound) {
		// The account was removed after the session was issued.
		return Anonymous(), nil
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolving user: %w", err)
	}

	admin, err := r.ids.IsDeploymentAdmin(ctx, user.ID)
	if err != nil {
		return Context{}, fmt.Errorf("resolving admin grant: %w", err)
	}

	sc := Context{
		Authenticated:   true,
		Provider:        rec.Provider,
		User:            &UserInfo{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName},
		DeploymentAdmin: admin,
	}

	wsID, err := r.ids.ActiveWorkspace(ctx, user.ID)
	if errors.Is(err, identity.ErrNotFound) {
		return sc, nil
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolving workspace binding: %w", err)
	}

	ws, err := r.ids.Workspace(ctx, wsID)
	if errors.Is(err, identity.ErrNotFound) {
		// The bound workspace was deleted; report no workspace rather
		// than a dangling id.
		return sc, nil
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolving workspace: %w", err)
	}
	sc.Workspace = &WorkspaceInfo{ID: ws.ID, Name: ws.Name}

	m, err := r.ids.Membership(ctx, ws.ID, user.ID)
	if err == nil {
		sc.Role = m.Role
	} else if !errors.Is(err, identity.ErrNotFound) {
		return Context{}, fmt.Errorf("resolving membership: %w", err)
	}

	return sc, nil
}
