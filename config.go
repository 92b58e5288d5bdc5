package dirgate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/server"
)

// Config holds the gateway configuration.
// Structured using composition: flow-level settings live in server.Config,
// the rest is grouped by concern.
type Config struct {
	// Flow holds the authorization and token-exchange settings
	// (client credentials, base URLs, redirect allow-list, TTLs).
	Flow server.Config

	// RateLimit holds per-IP rate limiting settings.
	RateLimit RateLimitConfig

	// Security holds session encryption and audit settings.
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// CleanupInterval is how often inactive limiters are evicted.
	CleanupInterval time.Duration
}

// SecurityConfig holds session and audit settings
type SecurityConfig struct {
	// SessionKey is the AES-256 key (32 bytes) sealing session cookies.
	// Required. Generate with security.GenerateKey().
	SessionKey []byte

	// EnableAuditLogging enables the structured security event log.
	// Subjects are hashed before they reach the log stream.
	EnableAuditLogging bool
}

// Validate checks the composed configuration.
func (c *Config) Validate() error {
	if err := c.Flow.Validate(); err != nil {
		return fmt.Errorf("flow config: %w", err)
	}
	if len(c.Security.SessionKey) != security.KeySize {
		return fmt.Errorf("session key must be %d bytes, got %d", security.KeySize, len(c.Security.SessionKey))
	}
	if c.RateLimit.CleanupInterval <= 0 {
		c.RateLimit.CleanupInterval = 5 * time.Minute
	}
	return nil
}
