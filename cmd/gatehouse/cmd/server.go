package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/pbartlett/gatehouse/admin"
	"github.com/pbartlett/gatehouse/api"
	"github.com/pbartlett/gatehouse/identity"
	bboltidentity "github.com/pbartlett/gatehouse/identity/bbolt"
	pgidentity "github.com/pbartlett/gatehouse/identity/postgres"
	"github.com/pbartlett/gatehouse/internal/util"
	"github.com/pbartlett/gatehouse/ratelimit"
	"github.com/pbartlett/gatehouse/session"
)

var (
	listen           string
	dataDir          string
	mode             string
	adminEnabled     bool
	adminUsername    string
	tokenExpiry      time.Duration
	rateLimitMax     int
	rateLimitWindow  time.Duration
	rateLimitBackend string
	redisAddr        string
	identityBackend  string
	postgresDSN      string
	trustedProxies   []string
	tlsCert          string
	tlsKey           string
	auditWebhookURL  string
	auditWebhookAuth string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authorization service server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if mode != "production" && mode != "development" {
			return fmt.Errorf("unknown --mode %q (production or development)", mode)
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		proxies, err := parseTrustedProxies(trustedProxies)
		if err != nil {
			return err
		}

		// One shared DB file carries sessions, audit entries and, unless
		// postgres is selected, the identity records.
		db, err := bbolt.Open(filepath.Join(dataDir, "gatehouse.db"), 0600, nil)
		if err != nil {
			return fmt.Errorf("failed to open data store: %w", err)
		}
		defer db.Close()

		sessions, err := session.NewBoltStore(db, 0)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer sessions.Close()

		var ids identity.Store
		switch identityBackend {
		case "bbolt":
			store, err := bboltidentity.NewStore(db)
			if err != nil {
				return fmt.Errorf("failed to open identity store: %w", err)
			}
			ids = store
		case "postgres":
			if postgresDSN == "" {
				return errors.New("--postgres-dsn is required with --identity-backend postgres")
			}
			store, err := pgidentity.NewStoreFromDSN(cmd.Context(), postgresDSN)
			if err != nil {
				return fmt.Errorf("failed to open identity store: %w", err)
			}
			defer store.Close()
			ids = store
		default:
			return fmt.Errorf("unknown --identity-backend %q (bbolt or postgres)", identityBackend)
		}

		var limitStore ratelimit.Store
		switch rateLimitBackend {
		case "memory":
			memStore := ratelimit.NewMemoryStore()
			defer memStore.Close()
			limitStore = memStore
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: redisAddr})
			if err := client.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("failed to reach redis at %s: %w", redisAddr, err)
			}
			defer client.Close()
			limitStore = ratelimit.NewRedisStore(client)
		default:
			return fmt.Errorf("unknown --rate-limit-backend %q (memory or redis)", rateLimitBackend)
		}

		opts := []api.Option{
			api.WithRateLimiter(ratelimit.NewLimiter(limitStore, rateLimitMax, rateLimitWindow)),
			api.WithAuditLog(db),
		}
		if len(proxies) > 0 {
			opts = append(opts, api.WithTrustedProxies(proxies))
		}
		if auditWebhookURL != "" {
			opts = append(opts, api.WithAuditWebhook(auditWebhookURL, auditWebhookAuth))
		}
		if adminEnabled {
			adminOpt, err := adminOption()
			if err != nil {
				return err
			}
			opts = append(opts, adminOpt)
		}

		a := api.New(ids, sessions, opts...)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              listen,
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on %s (data: %s, mode: %s)...\n", listen, dataDir, mode)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// adminOption assembles the admin surface from flags and environment.
// Credentials only travel through the environment, never through flags.
func adminOption() (api.Option, error) {
	password := os.Getenv("GATEHOUSE_ADMIN_PASSWORD")
	if password == "" {
		return nil, errors.New("GATEHOUSE_ADMIN_PASSWORD must be set when --admin-enabled is on")
	}
	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}

	secrets := admin.NewSecretProvider(os.Getenv("GATEHOUSE_ADMIN_SECRET"), dataDir, mode == "development")
	// Probe once so a missing production secret fails the start, not the
	// first login.
	probe, err := secrets.Secret()
	if err != nil {
		return nil, fmt.Errorf("admin signing secret unavailable: %w", err)
	}
	util.WipeBytes(probe)

	return api.WithAdmin(api.AdminConfig{
		Username:     adminUsername,
		PasswordHash: hash,
		Secrets:      secrets,
		TokenTTL:     tokenExpiry,
	}), nil
}

func parseTrustedProxies(cidrs []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid --trusted-proxy %q: %w", c, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listen, "listen", "l", ":8443", "Address to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&mode, "mode", "development", "Deployment mode (production or development)")
	serverCmd.Flags().BoolVar(&adminEnabled, "admin-enabled", false, "Enable the deployment admin login surface")
	serverCmd.Flags().StringVar(&adminUsername, "admin-username", "admin", "Deployment admin username")
	serverCmd.Flags().DurationVar(&tokenExpiry, "token-expiry", 24*time.Hour, "Lifetime of issued admin tokens")
	serverCmd.Flags().IntVar(&rateLimitMax, "rate-limit-max", ratelimit.DefaultMaxAttempts, "Login attempts allowed per window")
	serverCmd.Flags().DurationVar(&rateLimitWindow, "rate-limit-window", ratelimit.DefaultWindow, "Login rate limit window")
	serverCmd.Flags().StringVar(&rateLimitBackend, "rate-limit-backend", "memory", "Rate limit store (memory or redis)")
	serverCmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address for the shared rate limit store")
	serverCmd.Flags().StringVar(&identityBackend, "identity-backend", "bbolt", "Identity store (bbolt or postgres)")
	serverCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL DSN for the identity store")
	serverCmd.Flags().StringArrayVar(&trustedProxies, "trusted-proxy", nil, "CIDR range whose proxy headers are trusted (repeatable)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&auditWebhookURL, "audit-webhook-url", "", "URL receiving audit events")
	serverCmd.Flags().StringVar(&auditWebhookAuth, "audit-webhook-auth", "", "Authorization header for the audit webhook (\"Header: Value\")")
}
