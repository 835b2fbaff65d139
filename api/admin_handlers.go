package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/pbartlett/gatehouse/internal/util"
)

// AdminLogin handles POST /admin/auth/login. The budget check runs before
// the credentials are examined, so malformed guesses spend attempts at the
// same rate as plausible ones, and the failure answer is identical for an
// unknown username and a wrong password.
func (a *API) AdminLogin(w http.ResponseWriter, r *http.Request) {
	if !a.adminEnabled {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	req, ok := decodeJSON[AdminLoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ip := extractClientIP(r, a.trustedProxies)
	d, err := a.limiter.RecordAttempt(r.Context(), loginRateKey(ip, req.Username))
	if err != nil {
		// An unreachable limiter store refuses logins instead of
		// admitting unmetered attempts.
		a.audit.logFailure(AuditAdminLoginFailure, r, req.Username, "rate limiter unavailable")
		mapError(w, err)
		return
	}
	if !d.Allowed {
		a.audit.logFailure(AuditAdminLoginRateLimited, r, req.Username, "too many attempts")
		writeRateLimited(w, d)
		return
	}

	usernameOK := subtle.ConstantTimeCompare(
		[]byte(util.Normalize(req.Username)),
		[]byte(util.Normalize(a.adminUsername))) == 1
	passwordOK := a.adminPassword.Verify(req.Password)
	if !usernameOK || !passwordOK {
		a.audit.logFailure(AuditAdminLoginFailure, r, req.Username, "invalid credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := a.tokens.Issue(a.adminUsername)
	if err != nil {
		a.audit.logFailure(AuditAdminLoginFailure, r, req.Username, "token issuance failed")
		mapError(w, err)
		return
	}
	writeAdminCookie(w, r, token, expiresAt)
	issueCSRFCookie(w, r)

	a.audit.logEvent(AuditAdminLoginSuccess, r, a.adminUsername)
	writeJSON(w, http.StatusOK, AdminLoginResponse{
		Username:  a.adminUsername,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// AdminLogout handles POST /admin/auth/logout. Tokens are stateless, so
// logout clears the cookie; the token itself stays valid until expiry or
// secret rotation.
func (a *API) AdminLogout(w http.ResponseWriter, r *http.Request) {
	if !a.adminEnabled {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var subject string
	if token := adminTokenFromRequest(r); token != "" {
		if username, err := a.tokens.Verify(token); err == nil {
			subject = username
		}
	}
	clearAdminCookie(w, r)
	a.audit.logEvent(AuditAdminLogout, r, subject)
	writeJSON(w, http.StatusOK, struct{}{})
}

// ListAuditEntries handles GET /admin/audit. Without a configured audit
// store the surface still exists, it just has nothing to page through.
func (a *API) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var (
		entries []auditEntry
		total   int
	)
	if a.auditStore != nil {
		var err error
		entries, total, err = a.auditStore.list(limit, offset)
		if err != nil {
			writeInternalError(w, "failed to list audit entries", err)
			return
		}
	}

	details := make([]AuditEntryDetail, 0, len(entries))
	for _, e := range entries {
		details = append(details, AuditEntryDetail{
			ID:        e.ID,
			Event:     string(e.Event),
			Subject:   e.Subject,
			RemoteIP:  e.RemoteIP,
			CreatedAt: e.CreatedAt,
			Attrs:     e.Attrs,
		})
	}

	var actor string
	if ac := adminFromContext(r.Context()); ac != nil {
		actor = ac.Subject()
	}
	a.audit.logEvent(AuditLogViewed, r, actor)

	writeJSON(w, http.StatusOK, ListAuditResponse{
		Entries: details,
		PaginationMeta: PaginationMeta{
			TotalCount: total,
			Limit:      limit,
			Offset:     offset,
			HasMore:    offset+len(details) < total,
		},
	})
}
