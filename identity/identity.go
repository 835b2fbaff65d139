// Package identity defines the data-access interface through which the
// authorization subsystem reads users, workspaces, memberships, admin grants
// and active-workspace bindings. Workspace CRUD business logic lives outside
// this module; the subsystem only consumes this interface.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("identity: not found")

// Role is a workspace membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// User is an internal account. Email and DisplayName come from the external
// provider's profile and may be empty.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Identity links an external provider subject to an internal user. The link
// is immutable once created.
type Identity struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	UserID   string    `json:"user_id"`
	LinkedAt time.Time `json:"linked_at"`
}

// Workspace is the minimal workspace view the subsystem needs.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership grants a user a role in a workspace.
type Membership struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
}

// Profile carries provider-supplied account attributes used when a user is
// first created.
type Profile struct {
	Email       string
	DisplayName string
}

// Store is the identity data-access interface. Implementations must be safe
// for concurrent use; reads must observe the latest committed write.
type Store interface {
	// User returns the user with the given internal id.
	User(ctx context.Context, id string) (User, error)

	// UserByIdentity returns the user linked to (provider, subject).
	UserByIdentity(ctx context.Context, provider, subject string) (User, error)

	// LinkIdentity returns the user linked to (provider, subject), creating
	// the user and the link on first authentication. An existing link is
	// never modified: the stored user is returned as is.
	LinkIdentity(ctx context.Context, provider, subject string, profile Profile) (User, error)

	// Workspace returns the workspace with the given id.
	Workspace(ctx context.Context, id string) (Workspace, error)

	// CreateWorkspace creates a workspace with a generated id.
	CreateWorkspace(ctx context.Context, name string) (Workspace, error)

	// Membership returns the membership of userID in workspaceID, or
	// ErrNotFound when the user is not a member.
	Membership(ctx context.Context, workspaceID, userID string) (Membership, error)

	// Memberships returns all memberships of userID ordered by workspace id.
	Memberships(ctx context.Context, userID string) ([]Membership, error)

	// AddMembership adds userID to workspaceID with the given role,
	// replacing any existing role.
	AddMembership(ctx context.Context, workspaceID, userID string, role Role) error

	// ActiveWorkspace returns the workspace id currently bound for userID,
	// or ErrNotFound when no binding exists.
	ActiveWorkspace(ctx context.Context, userID string) (string, error)

	// SetActiveWorkspace commits a new active-workspace binding for userID.
	// Callers must go through session.Binder, which owns this mutation.
	SetActiveWorkspace(ctx context.Context, userID, workspaceID string) error

	// IsDeploymentAdmin reports whether userID is in the deployment admin
	// grant set. Privileged callers re-check this at call time; the result
	// must never be cached.
	IsDeploymentAdmin(ctx context.Context, userID string) (bool, error)

	// SetDeploymentAdmin adds or removes userID from the admin grant set.
	SetDeploymentAdmin(ctx context.Context, userID string, admin bool) error
}
