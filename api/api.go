// Package api exposes the HTTP surface: session introspection, the
// workspace switch endpoint, and the administrative login and audit
// endpoints. Authorization decisions live in the admin and session packages;
// handlers here translate them onto status codes, cookies and headers.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"go.etcd.io/bbolt"

	"github.com/pbartlett/gatehouse/admin"
	"github.com/pbartlett/gatehouse/identity"
	"github.com/pbartlett/gatehouse/internal/util"
	"github.com/pbartlett/gatehouse/ratelimit"
	"github.com/pbartlett/gatehouse/session"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	ids      identity.Store
	sessions session.Store
	resolver *session.Resolver
	binder   *session.Binder
	limiter  *ratelimit.Limiter
	audit    *auditLogger

	// Administrative surface. All fields stay zero when disabled and every
	// /admin route answers 404.
	adminEnabled  bool
	adminUsername string
	adminPassword util.PasswordHash
	tokens        *admin.TokenAuthority
	authority     *admin.Resolver

	auditStore     *auditStore
	webhook        *auditWebhook
	metrics        *metricsCollector
	alertFn        AlertFunc
	trustedProxies []netip.Prefix
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithRateLimiter replaces the default in-process login limiter, for
// deployments that share a Redis-backed store across instances.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// AdminConfig enables the administrative surface. The password must arrive
// already argon2id-hashed; the raw password never reaches the API layer.
type AdminConfig struct {
	Username     string
	PasswordHash util.PasswordHash
	Secrets      *admin.SecretProvider
	TokenTTL     time.Duration
}

// WithAdmin turns the admin endpoints on.
func WithAdmin(cfg AdminConfig) Option {
	return func(a *API) {
		a.adminEnabled = true
		a.adminUsername = cfg.Username
		a.adminPassword = cfg.PasswordHash
		a.tokens = admin.NewTokenAuthority(cfg.Secrets, cfg.TokenTTL)
	}
}

// WithTrustedProxies sets the CIDR ranges whose proxy headers are honored
// when extracting the client IP for rate limiting.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithAlertFunc installs an anomaly callback fed by the audit stream.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditLog persists audit entries in db so GET /admin/audit can serve
// them. The handle may be shared with the identity and session stores.
func WithAuditLog(db *bbolt.DB) Option {
	return func(a *API) { a.auditStore = newAuditStore(db) }
}

// WithAuditWebhook forwards audit events to an external collector. Dispatch
// is non-blocking; a full queue drops events rather than slowing requests.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		if url != "" {
			a.webhook = newAuditWebhook(url, authHeader)
		}
	}
}

// New creates a new API instance over the given identity and session stores.
func New(ids identity.Store, sessions session.Store, opts ...Option) *API {
	a := &API{
		ids:      ids,
		sessions: sessions,
		resolver: session.NewResolver(sessions, ids),
		binder:   session.NewBinder(ids),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.limiter == nil {
		a.limiter = ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
			ratelimit.DefaultMaxAttempts, ratelimit.DefaultWindow)
	}
	if a.alertFn != nil {
		a.metrics = newMetricsCollector(a.alertFn)
		a.audit.metrics = a.metrics
	}
	a.audit.webhook = a.webhook
	a.audit.store = a.auditStore
	if a.adminEnabled {
		a.authority = admin.NewResolver(a.tokens, a.resolver)
	}
	return a
}

// Close releases background workers owned by the API.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Get("/auth/session", a.GetSession)
	r.Get("/auth/session/workspaces", a.ListWorkspaces)
	r.With(a.CSRFMiddleware).Post("/auth/session/workspace", a.SwitchWorkspace)
	r.With(a.CSRFMiddleware).Post("/auth/logout", a.Logout)

	r.Post("/admin/auth/login", a.AdminLogin)
	r.With(a.CSRFMiddleware).Post("/admin/auth/logout", a.AdminLogout)
	r.With(a.RequireAdmin).Get("/admin/audit", a.ListAuditEntries)

	return r
}
