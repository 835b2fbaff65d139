package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pbartlett/gatehouse/admin"
)

type contextKey int

const adminContextKey contextKey = iota

const (
	sessionCookieName = "gatehouse_session"
	adminCookieName   = "gatehouse_admin"
)

// sessionTokenFromRequest extracts the session credential: the session
// cookie, or an Authorization bearer token for non-browser clients.
func sessionTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func adminTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(adminCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// RequireAdmin guards administrative routes. A disabled admin feature
// answers 404 for every caller, indistinguishable from an absent route.
// Otherwise the authority resolver decides: no authority 401, missing grant
// 403, and the resolved admin.Context rides on the request context.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.adminEnabled {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		ac, err := a.authority.Resolve(r.Context(), adminTokenFromRequest(r), sessionTokenFromRequest(r))
		if err != nil {
			mapError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), adminContextKey, ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFromContext(ctx context.Context) admin.Context {
	ac, _ := ctx.Value(adminContextKey).(admin.Context)
	return ac
}

// WriteSessionCookie sets the session credential cookie. Host applications
// call it after their provider-authentication layer links an identity and
// issues a session; the subsystem itself never mints sessions over HTTP.
func WriteSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func writeAdminCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func clearAdminCookie(w http.ResponseWriter, r *http.Request) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
