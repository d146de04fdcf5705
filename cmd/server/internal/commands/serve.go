package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/access"
	"github.com/wolfeidau/brandpilot/internal/api"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/billing"
	httpmiddleware "github.com/wolfeidau/brandpilot/internal/http"
	"github.com/wolfeidau/brandpilot/internal/logger"
	"github.com/wolfeidau/brandpilot/internal/login"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/telemetry"
	"github.com/wolfeidau/brandpilot/internal/website/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"BRANDPILOT_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"BRANDPILOT_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"BRANDPILOT_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"BRANDPILOT_CORS_ORIGINS"`

	// GitHub OAuth configuration
	ClientID     string        `help:"GitHub client ID, login is disabled when empty" default:"" env:"BRANDPILOT_GITHUB_CLIENT_ID"`
	ClientSecret string        `help:"GitHub client secret" default:"" env:"BRANDPILOT_GITHUB_CLIENT_SECRET"`
	CallbackURL  string        `help:"GitHub callback URL" default:"" env:"BRANDPILOT_GITHUB_CALLBACK_URL"`
	SessionTTL   time.Duration `help:"session TTL" default:"168h" env:"BRANDPILOT_SESSION_TTL"`

	// OIDC configuration
	BaseURL        string `help:"base URL used as the token issuer" default:"http://localhost:8080" env:"BRANDPILOT_BASE_URL"`
	TokenAudience  string `help:"audience of issued API tokens" default:"brandpilot-api" env:"BRANDPILOT_TOKEN_AUDIENCE"`
	SigningKeyFile string `help:"PEM encoded P-256 key for signing API tokens, generated when empty" default:"" env:"BRANDPILOT_SIGNING_KEY_FILE"`

	// Operator secrets
	CronSecret    string `help:"shared secret required on the reconcile trigger" default:"" env:"CRON_SECRET"`
	BillingSecret string `help:"shared secret required on billing events, disabled when empty" default:"" env:"BRANDPILOT_BILLING_SECRET"`

	// Background reconciliation
	ReconcileInterval time.Duration `help:"run the reconciliation sweep in process at this interval, 0 disables" default:"0s" env:"BRANDPILOT_RECONCILE_INTERVAL"`

	// Telemetry
	Tracing          bool    `help:"enable tracing" default:"false" env:"BRANDPILOT_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces to sample" default:"1.0" env:"BRANDPILOT_TRACE_SAMPLE_RATIO"`

	Store StoreFlags `embed:""`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	lg := logger.Setup(globals.Debug)
	log.Logger = lg

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "brandpilot-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, closeStores, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	registry := plans.Default()
	subscriptions := billing.NewSubscriptions(stores, registry, nil)
	reconciler := billing.NewReconciler(stores.Subscriptions, billing.WithSessionCleanup(stores.Sessions))

	keyManager, err := c.keyManager()
	if err != nil {
		return fmt.Errorf("failed to initialize OIDC key manager: %w", err)
	}

	sessionResolver := auth.NewSessionResolver(stores.Sessions)
	tokenResolver := auth.NewTokenResolver(keyManager, c.BaseURL, c.TokenAudience)

	apiServer, err := api.NewServer(api.Services{
		Resolver:      auth.NewChainResolver(tokenResolver, sessionResolver),
		Authorizer:    access.NewAuthorizer(stores.Memberships),
		Directory:     access.NewDirectory(stores.Memberships),
		Subscriptions: subscriptions,
		Quota:         billing.NewQuotaGate(stores, registry, nil),
		Reconciler:    reconciler,
		Plans:         registry,
	}, api.Config{
		CronSecret:    c.CronSecret,
		BillingSecret: c.BillingSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	mux := http.NewServeMux()
	apiServer.Register(mux)

	// Register OIDC endpoints. Tokens are minted only for browser sessions.
	oidcHandler := oidc.NewHandler(keyManager, c.BaseURL, c.TokenAudience)
	mux.HandleFunc("GET /.well-known/openid-configuration", oidcHandler.DiscoveryHandler())
	mux.HandleFunc("GET /.well-known/jwks.json", oidcHandler.JWKSHandler())
	mux.Handle("POST /auth/token", auth.RequirePrincipal(sessionResolver)(oidcHandler.TokenHandler()))

	log.Info().
		Str("issuer", c.BaseURL).
		Str("kid", keyManager.Kid()).
		Msg("OIDC provider initialized")

	if c.ClientID != "" {
		gh, err := login.NewGithub(c.ClientID, c.ClientSecret, c.CallbackURL, login.Stores{
			Users:       stores.Users,
			Sessions:    stores.Sessions,
			Memberships: stores.Memberships,
		}, subscriptions, c.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize GitHub OAuth: %w", err)
		}

		mux.HandleFunc("GET /login", gh.LoginHandler)
		mux.HandleFunc("GET /github/callback", gh.CallbackHandler)
		mux.HandleFunc("POST /logout", gh.LogoutHandler)
	} else {
		log.Warn().Msg("GitHub client ID not set, login is disabled")
	}

	if c.ReconcileInterval > 0 {
		go reconciler.Run(ctx, c.ReconcileInterval)
	}

	// CSRF protection for browser routes, CORS for API routes
	protection := csrf.New()
	apiHandler := withCORS(c.CORSOrigins, mux)
	browserHandler := protection.Handler(mux)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			apiHandler.ServeHTTP(w, r)
		} else {
			browserHandler.ServeHTTP(w, r)
		}
	})

	handler = httpmiddleware.ClientIPMiddleware()(handler)
	handler = gzhttp.GzipHandler(handler)
	handler = logger.HTTPRequests(lg)(handler)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "brandpilot-server")
	}

	return c.listenAndServe(ctx, configureHTTPServer(c.Listen, handler))
}

func (c *ServeCmd) keyManager() (*oidc.KeyManager, error) {
	if c.SigningKeyFile == "" {
		log.Warn().Msg("No signing key file set, issued tokens will not survive a restart")
		return oidc.NewKeyManager()
	}

	data, err := os.ReadFile(c.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return oidc.NewKeyManagerFromPEM(data)
}

func (c *ServeCmd) listenAndServe(ctx context.Context, srv *http.Server) error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be set together (--cert and --key)")
	}

	errCh := make(chan error, 1)
	go func() {
		if c.Cert != "" {
			log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// isAPIRoute returns true if the path is an API route that needs CORS instead of CSRF
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/") ||
		strings.HasPrefix(path, "/internal/") ||
		strings.HasPrefix(path, "/.well-known/")
}

// withCORS adds CORS support to the API handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag", "Content-Disposition"},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
