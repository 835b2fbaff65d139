package api

import (
	"net/http"
	"time"
)

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// setNoStore marks a response uncacheable. Session context must never be
// served from a browser or proxy cache: a cached body would resurrect an
// already-replaced workspace binding.
func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

// GetSession handles GET /auth/session. It always answers 200: an unknown
// or absent credential yields the anonymous context, not an error.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)

	sess, err := a.resolver.Resolve(r.Context(), sessionTokenFromRequest(r))
	if err != nil {
		writeInternalError(w, "failed to resolve session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListWorkspaces handles GET /auth/session/workspaces.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)

	sess, err := a.resolver.Resolve(r.Context(), sessionTokenFromRequest(r))
	if err != nil {
		writeInternalError(w, "failed to resolve session", err)
		return
	}
	if !sess.Authenticated {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	memberships, err := a.ids.Memberships(r.Context(), sess.User.ID)
	if err != nil {
		writeInternalError(w, "failed to list workspaces", err)
		return
	}
	summaries := make([]WorkspaceSummary, 0, len(memberships))
	for _, m := range memberships {
		ws, err := a.ids.Workspace(r.Context(), m.WorkspaceID)
		if err != nil {
			continue
		}
		summaries = append(summaries, WorkspaceSummary{
			ID:     ws.ID,
			Name:   ws.Name,
			Role:   string(m.Role),
			Active: sess.Workspace != nil && sess.Workspace.ID == ws.ID,
		})
	}
	writeJSON(w, http.StatusOK, ListWorkspacesResponse{Workspaces: summaries})
}

// SwitchWorkspace handles POST /auth/session/workspace. It is the only code
// path that rewrites the active-workspace binding.
func (a *API) SwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)

	token := sessionTokenFromRequest(r)
	sess, err := a.resolver.Resolve(r.Context(), token)
	if err != nil {
		writeInternalError(w, "failed to resolve session", err)
		return
	}
	if !sess.Authenticated {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, ok := decodeJSON[SwitchWorkspaceRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	ws, err := a.binder.Bind(r.Context(), sess.User.ID, req.WorkspaceID)
	if err != nil {
		mapError(w, err)
		return
	}
	a.touchSession(token)

	a.audit.logEvent(AuditWorkspaceSwitched, r, sess.User.ID,
		auditAttr("workspace_id", ws.ID))
	writeJSON(w, http.StatusOK, SwitchWorkspaceResponse{
		Workspace: WorkspaceDetail{ID: ws.ID, Name: ws.Name},
	})
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFromRequest(r)
	var userID string
	if rec, ok := a.sessions.Get(token); ok {
		userID = rec.UserID
	}
	if token != "" {
		a.sessions.Delete(token)
	}
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	a.audit.logEvent(AuditLogout, r, userID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// touchSession refreshes the idle-timeout clock on a mutating use of the
// session. Read-only resolution never touches.
func (a *API) touchSession(token string) {
	if rec, ok := a.sessions.Get(token); ok {
		rec.LastAccessedAt = time.Now()
		a.sessions.Put(token, rec)
	}
}
