package api

// SwitchWorkspaceRequest is the JSON body for POST /auth/session/workspace.
type SwitchWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// WorkspaceDetail describes a workspace in API responses.
type WorkspaceDetail struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SwitchWorkspaceResponse is returned from POST /auth/session/workspace once
// the new binding is committed.
type SwitchWorkspaceResponse struct {
	Workspace WorkspaceDetail `json:"workspace"`
}

// WorkspaceSummary is one entry in GET /auth/session/workspaces.
type WorkspaceSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// ListWorkspacesResponse is returned from GET /auth/session/workspaces.
type ListWorkspacesResponse struct {
	Workspaces []WorkspaceSummary `json:"workspaces"`
}

// AdminLoginRequest is the JSON body for POST /admin/auth/login.
type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminLoginResponse is returned from POST /admin/auth/login.
type AdminLoginResponse struct {
	Username  string `json:"username"`
	ExpiresAt string `json:"expires_at"`
}

// RateLimitedResponse is the 429 body. ResetAt tells the client when the
// attempt window reopens.
type RateLimitedResponse struct {
	Error   string `json:"error"`
	ResetAt string `json:"reset_at"`
}

// AuditEntryDetail is one audit record in GET /admin/audit.
type AuditEntryDetail struct {
	ID        string            `json:"id"`
	Event     string            `json:"event"`
	Subject   string            `json:"subject,omitempty"`
	RemoteIP  string            `json:"remote_ip,omitempty"`
	CreatedAt string            `json:"created_at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ListAuditResponse is returned from GET /admin/audit.
type ListAuditResponse struct {
	Entries []AuditEntryDetail `json:"entries"`
	PaginationMeta
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
