// Package memory provides a thread-safe in-memory implementation of
// identity.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pbartlett/gatehouse/identity"
	"github.com/pbartlett/gatehouse/internal/uuid"
)

// Store is a thread-safe in-memory implementation of identity.Store.
type Store struct {
	mu          sync.RWMutex
	users       map[string]identity.User
	identities  map[string]identity.Identity // provider + "\x00" + subject
	workspaces  map[string]identity.Workspace
	memberships map[string]identity.Membership // workspaceID + "\x00" + userID
	bindings    map[string]string              // userID -> workspaceID
	admins      map[string]bool
}

var _ identity.Store = (*Store)(nil)

// NewStore creates an empty in-memory Store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]identity.User),
		identities:  make(map[string]identity.Identity),
		workspaces:  make(map[string]identity.Workspace),
		memberships: make(map[string]identity.Membership),
		bindings:    make(map[string]string),
		admins:      make(map[string]bool),
	}
}

func identityKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func membershipKey(workspaceID, userID string) string {
	return workspaceID + "\x00" + userID
}

func (s *Store) User(_ context.Context, id string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (s *Store) UserByIdentity(_ context.Context, provider, subject string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.identities[identityKey(provider, subject)]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	u, ok := s.users[link.UserID]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (s *Store) LinkIdentity(_ context.Context, provider, subject string, profile identity.Profile) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An existing link wins; the stored user is returned unmodified.
	if link, ok := s.identities[identityKey(provider, subject)]; ok {
		if u, ok := s.users[link.UserID]; ok {
			return u, nil
		}
		return identity.User{}, identity.ErrNotFound
	}

	u := identity.User{
		ID:          uuid.New(),
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
	}
	s.users[u.ID] = u
	s.identities[identityKey(provider, subject)] = identity.Identity{
		Provider: provider,
		Subject:  subject,
		UserID:   u.ID,
		LinkedAt: time.Now().UTC(),
	}
	return u, nil
}

func (s *Store) Workspace(_ context.Context, id string) (identity.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workspaces[id]
	if !ok {
		return identity.Workspace{}, identity.ErrNotFound
	}
	return w, nil
}

func (s *Store) CreateWorkspace(_ context.Context, name string) (identity.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := identity.Workspace{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.workspaces[w.ID] = w
	return w, nil
}

func (s *Store) Membership(_ context.Context, workspaceID, userID string) (identity.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey(workspaceID, userID)]
	if !ok {
		return identity.Membership{}, identity.ErrNotFound
	}
	return m, nil
}

func (s *Store) Memberships(_ context.Context, userID string) ([]identity.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []identity.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out, nil
}

func (s *Store) AddMembership(_ context.Context, workspaceID, userID string, role identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[workspaceID]; !ok {
		return identity.ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return identity.ErrNotFound
	}
	s.memberships[membershipKey(workspaceID, userID)] = identity.Membership{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
	}
	return nil
}

func (s *Store) ActiveWorkspace(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bindings[userID]
	if !ok {
		return "", identity.ErrNotFound
	}
	return id, nil
}

func (s *Store) SetActiveWorkspace(_ context.Context, userID, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[workspaceID]; !ok {
		return identity.ErrNotFound
	}
	s.bindings[userID] = workspaceID
	return nil
}

func (s *Store) IsDeploymentAdmin(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[userID], nil
}

func (s *Store) SetDeploymentAdmin(_ context.Context, userID string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if admin {
		s.admins[userID] = true
	} else {
		delete(s.admins, userID)
	}
	return nil
}
