package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/dirgate"
	"github.com/kestrelhq/dirgate/directory"
	"github.com/kestrelhq/dirgate/instrumentation"
	"github.com/kestrelhq/dirgate/mcpserver"
	oidcprovider "github.com/kestrelhq/dirgate/providers/oidc"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/server"
	"github.com/kestrelhq/dirgate/storage"
	"github.com/kestrelhq/dirgate/storage/memory"
	"github.com/kestrelhq/dirgate/storage/valkey"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long: `Run the gateway HTTP server. Configuration is read from the
environment; a .env file in the working directory is loaded first when
present.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL := server.ResolveBaseURL(
		os.Getenv("DIRGATE_PUBLIC_URL"),
		os.Getenv("PLATFORM_EXTERNAL_URL"),
	)

	provider, err := oidcprovider.New(ctx, &oidcprovider.Config{
		IssuerURL:    os.Getenv("OIDC_ISSUER_URL"),
		ClientID:     os.Getenv("DIRGATE_CLIENT_ID"),
		ClientSecret: os.Getenv("DIRGATE_CLIENT_SECRET"),
		RedirectURL:  baseURL + "/auth/callback",
		Scopes:       strings.Fields(getenv("DIRGATE_SCOPE", server.DefaultScope)),
	})
	if err != nil {
		return fmt.Errorf("upstream provider: %w", err)
	}

	flowStore, closeStore, err := newFlowStore(logger)
	if err != nil {
		return fmt.Errorf("flow store: %w", err)
	}
	defer closeStore()

	sessionKey, err := security.KeyFromBase64(os.Getenv("DIRGATE_SESSION_KEY"))
	if err != nil {
		return fmt.Errorf("DIRGATE_SESSION_KEY: %w", err)
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "dirgate",
		ServiceVersion: version,
		Enabled:        getenvBool("DIRGATE_TELEMETRY", true),
		LogClientIPs:   getenvBool("DIRGATE_TELEMETRY_CLIENT_IPS", true),
	})
	if err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}

	config := &dirgate.Config{
		Flow: server.Config{
			ClientID:            os.Getenv("DIRGATE_CLIENT_ID"),
			ClientSecret:        os.Getenv("DIRGATE_CLIENT_SECRET"),
			PublicBaseURL:       os.Getenv("DIRGATE_PUBLIC_URL"),
			PlatformBaseURL:     os.Getenv("PLATFORM_EXTERNAL_URL"),
			AllowedRedirectURIs: splitCSVEnv(os.Getenv("DIRGATE_ALLOWED_REDIRECT_URIS")),
			Scope:               os.Getenv("DIRGATE_SCOPE"),
			CodeReplayTTL:       getenvDuration("DIRGATE_CODE_REPLAY_TTL", 0),
			LoginStateTTL:       getenvDuration("DIRGATE_LOGIN_STATE_TTL", 0),
			SessionTTL:          getenvDuration("DIRGATE_SESSION_TTL", 0),
			TrustProxy:          getenvBool("DIRGATE_TRUST_PROXY", false),
		},
		RateLimit: dirgate.RateLimitConfig{
			Rate:  getenvInt("DIRGATE_RATE_LIMIT_RPS", 10),
			Burst: getenvInt("DIRGATE_RATE_LIMIT_BURST", 20),
		},
		Security: dirgate.SecurityConfig{
			SessionKey:         sessionKey,
			EnableAuditLogging: getenvBool("DIRGATE_AUDIT_LOG", true),
		},
		Logger: logger,
	}

	gateway, err := dirgate.NewServer(provider, flowStore, config, inst)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	handler := dirgate.NewHandler(gateway, logger)

	// Bearer validations hit the upstream provider; give them their own
	// per-IP budget independent of the OAuth endpoints.
	var bearerLimiter *security.RateLimiter
	if rps := getenvInt("DIRGATE_RATE_LIMIT_RPS", 10); rps > 0 {
		bearerLimiter = security.NewRateLimiter(rps, getenvInt("DIRGATE_RATE_LIMIT_BURST", 20), logger)
		defer bearerLimiter.Stop()
	}

	authenticator := mcpserver.NewAuthenticator(provider, gateway.Sessions(), mcpserver.AuthenticatorConfig{
		TrustProxy:  config.Flow.TrustProxy,
		RateLimiter: bearerLimiter,
		Auditor:     gateway.Auditor(),
	}, logger)

	tools := mcpserver.New(
		directory.NewMemoryStore(),
		authenticator,
		mcpserver.Config{Name: "dirgate", Version: version},
		gateway.Auditor(),
		inst,
		logger,
	)

	router := chi.NewRouter()
	router.Use(security.RequestIDMiddleware)

	router.Get("/authorize", handler.ServeAuthorization)
	router.Post("/authorize", handler.ServeAuthorization)
	router.Post("/token", handler.ServeToken)
	router.HandleFunc("/register", handler.ServeClientRegistration)

	router.Get("/auth/login", handler.ServeLogin)
	router.Get("/auth/callback", handler.ServeCallback)
	router.Get("/auth/session", handler.ServeSessionStatus)
	router.HandleFunc("/auth/logout", handler.ServeLogout)
	router.Get("/auth/error", handler.ServeErrorPage)

	router.Get("/.well-known/oauth-authorization-server", handler.ServeAuthorizationServerMetadata)
	router.Get("/.well-known/openid-configuration", handler.ServeOpenIDConfiguration)
	router.Get("/.well-known/oauth-protected-resource", handler.ServeProtectedResourceMetadata)

	router.Handle("/mcp", tools)

	addr := getenv("DIRGATE_LISTEN_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "addr", addr, "base_url", baseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return gateway.Shutdown(shutdownCtx)
}

// newFlowStore picks the flow-store backend: valkey when an address is
// configured, in-process memory otherwise.
func newFlowStore(logger *slog.Logger) (storage.FlowStore, func(), error) {
	if addr := os.Getenv("DIRGATE_VALKEY_ADDR"); addr != "" {
		var tlsConfig *tls.Config
		if getenvBool("DIRGATE_VALKEY_TLS", false) {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(valkey.Config{
			Address:  addr,
			Password: os.Getenv("DIRGATE_VALKEY_PASSWORD"),
			DB:       getenvInt("DIRGATE_VALKEY_DB", 0),
			TLS:      tlsConfig,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	store := memory.New()
	store.SetLogger(logger)
	return store, store.Stop, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("DIRGATE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(os.Getenv("DIRGATE_LOG_FORMAT")) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSVEnv(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
