package mcpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/session"
)

// ErrAuthRequired is the uniform authentication failure. Callers receive no
// detail about which mechanism was attempted or why it failed.
var ErrAuthRequired = errors.New("authentication required")

// AuthenticatorConfig holds authenticator settings.
type AuthenticatorConfig struct {
	// BearerScopes are granted to callers authenticated by upstream
	// bearer token. Default: directory:read + directory:write.
	BearerScopes []string

	// SessionScopes are granted to callers authenticated by session
	// cookie. Default: directory:read only; browser sessions stay
	// read-only unless configured otherwise.
	SessionScopes []string

	// TrustProxy enables X-Forwarded-For handling for rate limiting.
	TrustProxy bool

	// RateLimiter, when set, bounds upstream token validations per IP.
	RateLimiter *security.RateLimiter

	// Auditor, when set, receives authentication events. Nil-safe.
	Auditor *security.Auditor
}

// Authenticator resolves a request to an authenticated identity from either
// an upstream bearer token or a gateway session cookie.
//
// A bearer header that is present but unusable (wrong scheme, empty token)
// is a hard failure with no cookie fallback: a caller who attempted bearer
// authentication gets a bearer verdict.
type Authenticator struct {
	provider providers.Provider
	sessions *session.Manager
	config   AuthenticatorConfig
	logger   *slog.Logger
}

// NewAuthenticator creates a request authenticator.
func NewAuthenticator(provider providers.Provider, sessions *session.Manager, config AuthenticatorConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if len(config.BearerScopes) == 0 {
		config.BearerScopes = []string{ScopeDirectoryRead, ScopeDirectoryWrite}
	}
	if len(config.SessionScopes) == 0 {
		config.SessionScopes = []string{ScopeDirectoryRead}
	}

	return &Authenticator{
		provider: provider,
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
}

// Authenticate resolves the request credential. All failure paths return
// ErrAuthRequired; detail stays in logs and audit events.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	clientIP := security.GetClientIP(r, a.config.TrustProxy)

	if header := r.Header.Get("Authorization"); header != "" {
		return a.authenticateBearer(r, header, clientIP)
	}

	return a.authenticateSession(r, clientIP)
}

func (a *Authenticator) authenticateBearer(r *http.Request, header, clientIP string) (*Identity, error) {
	scheme, token, _ := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, "bearer") || token == "" {
		a.logger.Debug("Malformed Authorization header", "ip", clientIP)
		a.config.Auditor.LogAuthFailure("", "", clientIP, "malformed_bearer_header")
		return nil, ErrAuthRequired
	}

	// Upstream validation is a network call; bound it per IP.
	if a.config.RateLimiter != nil && !a.config.RateLimiter.Allow(clientIP) {
		a.logger.Warn("Bearer validation rate limit exceeded", "ip", clientIP)
		a.config.Auditor.LogRateLimitExceeded(clientIP, "")
		return nil, ErrAuthRequired
	}

	identity, err := a.provider.ValidateToken(r.Context(), token)
	if err != nil {
		a.logger.Debug("Bearer token validation failed", "ip", clientIP, "error", err)
		a.config.Auditor.LogAuthFailure("", "", clientIP, "bearer_validation_failed")
		return nil, ErrAuthRequired
	}

	return &Identity{
		Subject: identity.Subject,
		Email:   identity.Email,
		Name:    identity.Name,
		Scopes:  a.config.BearerScopes,
		Source:  SourceBearer,
	}, nil
}

func (a *Authenticator) authenticateSession(r *http.Request, clientIP string) (*Identity, error) {
	credential := session.FromRequest(r)
	result := a.sessions.Validate(credential)
	if !result.Valid {
		if credential != "" {
			a.config.Auditor.LogSessionRejected(clientIP, "invalid_or_expired")
		}
		return nil, ErrAuthRequired
	}

	return &Identity{
		Subject: result.Claims.Subject,
		Email:   result.Claims.Email,
		Name:    result.Claims.Name,
		Scopes:  a.config.SessionScopes,
		Source:  SourceSession,
	}, nil
}
