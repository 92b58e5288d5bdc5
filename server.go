package dirgate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelhq/dirgate/instrumentation"
	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/server"
	"github.com/kestrelhq/dirgate/session"
	"github.com/kestrelhq/dirgate/storage"
)

// Server wires the flow engine, session manager, and security components
// behind one façade. Construct it once and hand it to NewHandler.
type Server struct {
	flows    *server.Server
	sessions *session.Manager

	rateLimiter     *security.RateLimiter
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation

	config *Config
	logger *slog.Logger
}

// NewServer creates the gateway server. The provider and flow store are
// injected so single-instance deployments can use the memory store and
// multi-instance ones valkey, without the gateway caring which.
func NewServer(provider providers.Provider, flowStore storage.FlowStore, config *Config, inst *instrumentation.Instrumentation) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	flows, err := server.New(provider, flowStore, &config.Flow, logger)
	if err != nil {
		return nil, fmt.Errorf("flow server: %w", err)
	}

	sessions, err := session.NewManager(config.Security.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	s := &Server{
		flows:    flows,
		sessions: sessions,
		auditor:  security.NewAuditor(logger, config.Security.EnableAuditLogging),

		instrumentation: inst,
		config:          config,
		logger:          logger,
	}
	flows.Auditor = s.auditor
	if inst != nil {
		flows.Metrics = inst.Metrics()
	}

	if config.RateLimit.Rate > 0 {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
	}

	return s, nil
}

// Flows returns the flow engine.
func (s *Server) Flows() *server.Server {
	return s.flows
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Auditor returns the security auditor.
func (s *Server) Auditor() *security.Auditor {
	return s.auditor
}

// BaseURL is the gateway's externally visible base URL.
func (s *Server) BaseURL() string {
	return s.flows.BaseURL()
}

// CookieSecure reports whether session cookies should carry the Secure flag.
func (s *Server) CookieSecure() bool {
	return strings.HasPrefix(s.BaseURL(), "https://")
}

// Shutdown releases background resources (rate limiter goroutine,
// instrumentation providers).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.instrumentation != nil {
		return s.instrumentation.Shutdown(ctx)
	}
	return nil
}
