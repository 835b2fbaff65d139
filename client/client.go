// Package client is the Go consumer of the gatehouse HTTP surface. It
// implements session.ContextSource over the session endpoint, so callers can
// wait out workspace-switch propagation with session.AwaitWorkspace, and it
// bundles switch-then-confirm into one call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pbartlett/gatehouse/session"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gatehouse: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("gatehouse: status %d", e.Status)
}

// Client talks to one gatehouse server on behalf of one session credential.
// The credential travels as a bearer token, which keeps the client free of
// cookie and CSRF handling.
type Client struct {
	baseURL  string
	token    string
	httpc    *http.Client
	affinity session.AffinityConfig
}

var _ session.ContextSource = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithAffinityConfig tunes the poll bounds used by SwitchWorkspaceAndWait.
func WithAffinityConfig(cfg session.AffinityConfig) Option {
	return func(c *Client) { c.affinity = cfg }
}

// New creates a client for the API mount at baseURL, for example
// "https://host:8443/api/v1".
func New(baseURL, sessionToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    sessionToken,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		affinity: session.DefaultAffinityConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionContext fetches the session context as the server sees it right
// now. The request carries Cache-Control no-cache so no intermediary may
// answer from cache; a cached context could hide a committed switch.
func (c *Client) SessionContext(ctx context.Context) (session.Context, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/session", nil)
	if err != nil {
		return session.Context{}, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return session.Context{}, fmt.Errorf("fetching session context: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.Context{}, decodeError(resp)
	}

	var sc session.Context
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		return session.Context{}, fmt.Errorf("decoding session context: %w", err)
	}
	return sc, nil
}

// SwitchWorkspace asks the server to commit a new active-workspace binding.
// A nil return means the server committed the write; it does not yet mean
// every subsequent read observes it.
func (c *Client) SwitchWorkspace(ctx context.Context, workspaceID string) error {
	body, err := json.Marshal(struct {
		WorkspaceID string `json:"workspace_id"`
	}{workspaceID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/session/workspace", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("switching workspace: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// SwitchWorkspaceAndWait switches and then polls the session endpoint until
// the new workspace is observable. On timeout it returns an error wrapping
// session.ErrStaleSession and the caller must not act on the old context.
func (c *Client) SwitchWorkspaceAndWait(ctx context.Context, workspaceID string) error {
	if err := c.SwitchWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	return session.AwaitWorkspace(ctx, c, workspaceID, c.affinity)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
