package server

import (
	"fmt"
	"strings"
	"time"
)

// Default TTLs. Authorization-code replay marks only need to outlive the
// upstream code lifetime; session TTL bounds how long a stolen cookie
// stays usable (there is no server-side revocation).
const (
	DefaultCodeReplayTTL = 10 * time.Minute
	DefaultLoginStateTTL = 10 * time.Minute
	DefaultSessionTTL    = 8 * time.Hour
	DefaultScope         = "openid email profile"
)

// Config holds the flow-level configuration of the gateway.
type Config struct {
	// ClientID is the single client identity this gateway serves.
	// Dynamic client registration is deliberately not supported.
	ClientID string

	// ClientSecret is the shared secret callers present at the token
	// endpoint. Hashed at construction; the plaintext is not retained.
	ClientSecret string

	// PublicBaseURL is the explicit production base-URL override.
	PublicBaseURL string

	// PlatformBaseURL is the deployment-platform-assigned external URL,
	// used when no explicit override is set.
	PlatformBaseURL string

	// AllowedRedirectURIs are the static allow-list entries. The gateway's
	// own callback URL is always allowed in addition.
	AllowedRedirectURIs []string

	// Scope is the default scope forwarded upstream for browser logins.
	Scope string

	// CodeReplayTTL is how long a redeemed-code mark is kept.
	CodeReplayTTL time.Duration

	// LoginStateTTL bounds a pending browser login flow.
	LoginStateTTL time.Duration

	// SessionTTL is the lifetime of issued browser sessions.
	SessionTTL time.Duration

	// TrustProxy enables X-Forwarded-For / X-Real-IP handling.
	// Only set behind a trusted reverse proxy.
	TrustProxy bool
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if strings.TrimSpace(c.Scope) == "" {
		c.Scope = DefaultScope
	}
	if c.CodeReplayTTL <= 0 {
		c.CodeReplayTTL = DefaultCodeReplayTTL
	}
	if c.LoginStateTTL <= 0 {
		c.LoginStateTTL = DefaultLoginStateTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}

	for _, uri := range c.AllowedRedirectURIs {
		if err := checkRedirectURISyntax(uri); err != nil {
			return fmt.Errorf("allow-list entry %q: %w", uri, err)
		}
	}
	return nil
}
