package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbartlett/gatehouse/api"
	"github.com/pbartlett/gatehouse/client"
	"github.com/pbartlett/gatehouse/identity"
	"github.com/pbartlett/gatehouse/identity/memory"
	"github.com/pbartlett/gatehouse/session"
)

func fastAffinity() session.AffinityConfig {
	return session.AffinityConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      1.5,
		Timeout:         500 * time.Millisecond,
	}
}

func TestSessionContextRequest(t *testing.T) {
	var gotPath, gotCacheControl, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCacheControl = r.Header.Get("Cache-Control")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(session.Context{
			Authenticated: true,
			Provider:      "oidc",
			User:          &session.UserInfo{ID: "user-1", Email: "ada@example.com"},
			Role:          identity.RoleOwner,
			Workspace:     &session.WorkspaceInfo{ID: "ws-1", Name: "research"},
		})
	}))
	defer srv.Close()

	// Trailing slash on the base URL must not double up in request paths.
	c := client.New(srv.URL+"/api/v1/", "tok-123")
	sc, err := c.SessionContext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/auth/session", gotPath)
	assert.Equal(t, "no-cache", gotCacheControl)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.True(t, sc.Authenticated)
	assert.Equal(t, identity.RoleOwner, sc.Role)
	require.NotNil(t, sc.Workspace)
	assert.Equal(t, "ws-1", sc.Workspace.ID)
}

func TestSessionContextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "session store unavailable"})
	}))
	defer srv.Close()

	c := client.New(srv.URL+"/api/v1", "tok")
	_, err := c.SessionContext(context.Background())

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "session store unavailable", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "session store unavailable")
}

func TestSwitchWorkspaceRequest(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	var gotBody struct {
		WorkspaceID string `json:"workspace_id"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"workspace": session.WorkspaceInfo{ID: gotBody.WorkspaceID, Name: "ops"},
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL+"/api/v1", "tok")
	require.NoError(t, c.SwitchWorkspace(context.Background(), "ws-9"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/auth/session/workspace", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "ws-9", gotBody.WorkspaceID)
}

func TestSwitchWorkspaceDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a member of this workspace"})
	}))
	defer srv.Close()

	c := client.New(srv.URL+"/api/v1", "tok")
	err := c.SwitchWorkspace(context.Background(), "ws-9")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

// delayedServer simulates a deployment where the switch commits immediately
// but reads lag behind it for a few polls.
func delayedServer(t *testing.T, staleReads int64) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var reads atomic.Int64
	active := &atomic.Value{}
	active.Store("ws-old")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		n := reads.Add(1)
		ws := active.Load().(string)
		if n <= staleReads {
			ws = "ws-old"
		}
		json.NewEncoder(w).Encode(session.Context{
			Authenticated: true,
			Workspace:     &session.WorkspaceInfo{ID: ws, Name: "lagging"},
		})
	})
	mux.HandleFunc("/api/v1/auth/session/workspace", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			WorkspaceID string `json:"workspace_id"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		active.Store(req.WorkspaceID)
		json.NewEncoder(w).Encode(map[string]any{
			"workspace": session.WorkspaceInfo{ID: req.WorkspaceID},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &reads
}

func TestSwitchWorkspaceAndWaitConfirmsAfterLag(t *testing.T) {
	srv, reads := delayedServer(t, 2)

	c := client.New(srv.URL+"/api/v1", "tok", client.WithAffinityConfig(fastAffinity()))
	require.NoError(t, c.SwitchWorkspaceAndWait(context.Background(), "ws-new"))

	// Two stale answers force at least three polls before confirmation.
	assert.GreaterOrEqual(t, reads.Load(), int64(3))
}

func TestSwitchWorkspaceAndWaitTimesOut(t *testing.T) {
	// Reads never catch up, so confirmation cannot arrive.
	srv, _ := delayedServer(t, 1<<30)

	cfg := fastAffinity()
	cfg.Timeout = 60 * time.Millisecond
	c := client.New(srv.URL+"/api/v1", "tok", client.WithAffinityConfig(cfg))

	err := c.SwitchWorkspaceAndWait(context.Background(), "ws-new")
	require.ErrorIs(t, err, session.ErrStaleSession)
}

func TestSwitchWorkspaceAndWaitCancellation(t *testing.T) {
	srv, _ := delayedServer(t, 1<<30)

	c := client.New(srv.URL+"/api/v1", "tok", client.WithAffinityConfig(fastAffinity()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.SwitchWorkspaceAndWait(ctx, "ws-new")
	require.ErrorIs(t, err, context.Canceled)
}

// TestAgainstLiveServer drives the real HTTP stack end to end.
func TestAgainstLiveServer(t *testing.T) {
	ids := memory.NewStore()
	sessions := session.NewMemoryStore(0)

	ctx := context.Background()
	user, err := ids.LinkIdentity(ctx, "oidc", "client-tester", identity.Profile{Email: "ada@example.com"})
	require.NoError(t, err)
	first, err := ids.CreateWorkspace(ctx, "alpha")
	require.NoError(t, err)
	second, err := ids.CreateWorkspace(ctx, "beta")
	require.NoError(t, err)
	require.NoError(t, ids.AddMembership(ctx, first.ID, user.ID, identity.RoleOwner))
	require.NoError(t, ids.AddMembership(ctx, second.ID, user.ID, identity.RoleMember))
	require.NoError(t, ids.SetActiveWorkspace(ctx, user.ID, first.ID))

	token, _, err := session.Issue(sessions, user.ID, "oidc", time.Hour)
	require.NoError(t, err)

	a := api.New(ids, sessions)
	t.Cleanup(func() { a.Close() })
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := client.New(srv.URL+"/api/v1", token, client.WithAffinityConfig(fastAffinity()))

	sc, err := c.SessionContext(ctx)
	require.NoError(t, err)
	require.NotNil(t, sc.Workspace)
	assert.Equal(t, first.ID, sc.Workspace.ID)

	require.NoError(t, c.SwitchWorkspaceAndWait(ctx, second.ID))

	sc, err = c.SessionContext(ctx)
	require.NoError(t, err)
	require.NotNil(t, sc.Workspace)
	assert.Equal(t, second.ID, sc.Workspace.ID)
	assert.Equal(t, identity.RoleMember, sc.Role)

	unknownErr := c.SwitchWorkspace(ctx, "no-such-workspace")
	var apiErr *client.APIError
	require.ErrorAs(t, unknownErr, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
