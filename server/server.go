package server

import (
	"log/slog"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/kestrelhq/dirgate/instrumentation"
	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/storage"
)

// Server coordinates the authorization and token-exchange flows against the
// upstream provider. Stateless per request: the only cross-request state is
// the read-only configuration and the injected flow store.
type Server struct {
	provider   providers.Provider
	flowStore  storage.FlowStore
	config     *Config
	secretHash []byte
	logger     *slog.Logger

	// Auditor is optional; nil disables audit logging.
	Auditor *security.Auditor

	// Metrics is optional; nil disables flow metrics.
	Metrics *instrumentation.Metrics
}

// New creates a flow server. The client secret is bcrypt-hashed here and
// compared in constant time on every client authentication.
func New(provider providers.Provider, flowStore storage.FlowStore, config *Config, logger *slog.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	secretHash, err := bcrypt.GenerateFromPassword([]byte(config.ClientSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	// Drop the plaintext; only the hash is needed from here on.
	config.ClientSecret = ""

	return &Server{
		provider:   provider,
		flowStore:  flowStore,
		config:     config,
		secretHash: secretHash,
		logger:     logger,
	}, nil
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Provider returns the upstream provider.
func (s *Server) Provider() providers.Provider {
	return s.provider
}

// BaseURL resolves the gateway's externally visible base URL.
func (s *Server) BaseURL() string {
	return ResolveBaseURL(s.config.PublicBaseURL, s.config.PlatformBaseURL)
}

// CallbackURL is the gateway's upstream callback, derived from the base URL.
func (s *Server) CallbackURL() string {
	return s.BaseURL() + "/auth/callback"
}

// generateRandomToken produces a high-entropy random string for states.
// oauth2.GenerateVerifier yields 32 bytes of crypto/rand entropy,
// base64url-encoded.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
