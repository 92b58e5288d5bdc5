package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// User subjects are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenExchanged logs a successful upstream code-for-token exchange
func (a *Auditor) LogTokenExchanged(subject, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenExchanged,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeReplayed logs a redemption attempt of an already-used code
func (a *Auditor) LogCodeReplayed(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventCodeReplayed,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogSessionIssued logs the issuance of a browser session
func (a *Auditor) LogSessionIssued(subject, ipAddress string, ttl time.Duration) {
	a.LogEvent(Event{
		Type:      EventSessionIssued,
		Subject:   subject,
		IPAddress: ipAddress,
		Details: map[string]any{
			"ttl_seconds": int64(ttl.Seconds()),
		},
	})
}

// LogSessionRejected logs an invalid or expired session credential
func (a *Auditor) LogSessionRejected(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventSessionRejected,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, subject string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		Subject:   subject,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a truncated SHA256 hash for correlating sensitive
// values across log lines without disclosing them.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
