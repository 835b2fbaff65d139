package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pbartlett/gatehouse/admin"
	"github.com/pbartlett/gatehouse/identity"
	"github.com/pbartlett/gatehouse/ratelimit"
	"github.com/pbartlett/gatehouse/session"
)

const (
	// maxAuthBodySize bounds login and logout bodies.
	maxAuthBodySize = 4 << 10
	// maxSmallBodySize bounds ordinary JSON request bodies.
	maxSmallBodySize = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs the underlying error and answers with a generic
// message so internals never reach the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// mapError translates domain errors onto status codes. Denials keep their
// sentinel's message; anything unrecognized becomes an opaque 500.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admin.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, admin.ErrUnauthorized.Error())
	case errors.Is(err, admin.ErrForbidden):
		writeError(w, http.StatusForbidden, admin.ErrForbidden.Error())
	case errors.Is(err, admin.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, admin.ErrTokenExpired.Error())
	case errors.Is(err, admin.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, admin.ErrInvalidToken.Error())
	case errors.Is(err, admin.ErrMisconfiguredSecret):
		writeError(w, http.StatusServiceUnavailable, "admin authentication unavailable")
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
	case errors.Is(err, session.ErrNotMember):
		writeError(w, http.StatusForbidden, "not a member of this workspace")
	case errors.Is(err, session.ErrStaleSession):
		writeError(w, http.StatusConflict, session.ErrStaleSession.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeInternalError(w, "internal error", err)
	}
}

// decodeJSON reads a JSON body of at most maxSize bytes into T. On failure
// it writes the error response itself and reports ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return req, false
	}
	return req, true
}
