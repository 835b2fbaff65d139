// Package session derives per-request session context from credentials and
// guarantees that workspace context observed after a switch is never stale.
//
// Context values are produced fresh on every resolve and carry no
// server-side caching; the workspace-affinity helpers in this package give
// consumers a bounded way to wait until a committed switch is observable.
package session

import "github.com/pbartlett/gatehouse/identity"

// Context is the per-request session view. It is the wire model for the
// session endpoint and is never cached beyond the request that produced it.
type Context struct {
	Authenticated   bool           `json:"authenticated"`
	Provider        string         `json:"provider,omitempty"`
	User            *UserInfo      `json:"user,omitempty"`
	Role            identity.Role  `json:"role,omitempty"`
	DeploymentAdmin bool           `json:"deployment_admin"`
	Workspace       *WorkspaceInfo `json:"workspace,omitempty"`
}

// UserInfo is the user slice of a Context.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// WorkspaceInfo is the workspace slice of a Context. ID always reflects the
// most recently committed active-workspace binding for the identity.
type WorkspaceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Anonymous returns the context for a request carrying no valid session
// credential.
func Anonymous() Context {
	return Context{}
}
