// Package session implements the gateway's browser session credential.
//
// A session is a sealed, self-contained wrapper around identity claims plus
// an expiry. There is no server-side session table: validation is a pure
// function of the credential and the clock, and revocation is limited to
// instructing the client to discard the cookie. A stolen credential
// therefore remains usable until natural expiry; keep TTLs short.
package session

import (
	"encoding/json"
	"time"

	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/security"
)

// Claims is the identity payload carried inside a session credential.
type Claims struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Session is an issued credential with its expiry.
type Session struct {
	Credential string
	ExpiresAt  time.Time
}

// Result is the outcome of validating a credential. Claims is set only
// when Valid is true.
type Result struct {
	Valid  bool
	Claims *Claims
}

// Manager issues and validates session credentials. The credential is the
// JSON claims sealed with AES-256-GCM, so it is tamper-evident: a forged or
// bit-flipped cookie fails authentication on open and is treated as absent.
type Manager struct {
	encryptor *security.Encryptor

	// now is a clock hook for expiry tests.
	now func() time.Time
}

// NewManager creates a session manager. The key must be 32 bytes; sessions
// sealed under one key cannot be opened under another, so restarts with a
// fresh key invalidate all outstanding sessions.
func NewManager(key []byte) (*Manager, error) {
	enc, err := security.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	return &Manager{
		encryptor: enc,
		now:       time.Now,
	}, nil
}

// Issue creates a session for the given identity with the given lifetime.
func (m *Manager) Issue(identity *providers.Identity, ttl time.Duration) (*Session, error) {
	now := m.now()
	claims := Claims{
		Subject:   identity.Subject,
		Email:     identity.Email,
		Name:      identity.Name,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}

	credential, err := m.encryptor.Seal(payload)
	if err != nil {
		return nil, err
	}

	return &Session{
		Credential: credential,
		ExpiresAt:  claims.ExpiresAt,
	}, nil
}

// Validate checks a credential. Corrupt, forged, unparseable, or expired
// credentials all yield {Valid: false}; no failure mode escapes as an error
// because an invalid cookie is an expected input, not a fault.
func (m *Manager) Validate(credential string) Result {
	if credential == "" {
		return Result{}
	}

	payload, err := m.encryptor.Open(credential)
	if err != nil {
		return Result{}
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Result{}
	}

	if claims.ExpiresAt.IsZero() || !m.now().Before(claims.ExpiresAt) {
		return Result{}
	}

	return Result{Valid: true, Claims: &claims}
}
