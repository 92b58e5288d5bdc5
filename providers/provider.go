// Package providers defines the interface for upstream identity providers and
// holds the normalized identity type shared across the gateway.
package providers

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// AuthOptions carries the per-request parameters forwarded to the upstream
// authorization endpoint. Scope, state, and PKCE values are passed through
// unchanged; the gateway never rewrites them.
type AuthOptions struct {
	// RedirectURI overrides the provider's configured redirect URL.
	// Empty uses the configured callback.
	RedirectURI string

	// Scope is the space-separated scope string requested by the caller.
	Scope string

	// CodeChallenge and CodeChallengeMethod are PKCE parameters
	// (pass empty strings when the caller did not use PKCE).
	CodeChallenge       string
	CodeChallengeMethod string
}

// Provider is the upstream exchange client abstraction. The gateway never
// issues its own cryptographic tokens: it forwards the authorization-code
// exchange to the provider and wraps the result.
type Provider interface {
	// Name returns the provider name (e.g., "oidc", "mock")
	Name() string

	// AuthorizationURL builds the upstream authorization URL for the given
	// state and options.
	AuthorizationURL(state string, opts *AuthOptions) string

	// ExchangeCode exchanges an authorization code for upstream tokens.
	// The call is made exactly once per code; authorization codes are
	// single-use and a blind retry would consume the code twice.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)

	// FetchIdentity resolves the identity bound to an exchanged token set.
	// Implementations prefer verifying the id_token when one was issued and
	// fall back to the userinfo endpoint keyed by the access token.
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error)

	// ValidateToken validates a bearer access token presented directly to
	// the gateway and returns the identity it belongs to.
	ValidateToken(ctx context.Context, accessToken string) (*Identity, error)

	// HealthCheck verifies that the provider is reachable. Used by
	// readiness probes and startup validation.
	HealthCheck(ctx context.Context) error
}

// Identity is the normalized identity extracted from upstream tokens.
// Immutable once constructed.
type Identity struct {
	// Subject is the stable unique user identifier from the provider.
	Subject string

	// Email is the user's email address, when the provider discloses one.
	Email string

	// Name is the user's display name.
	Name string

	// IssuedAt is when the identity was resolved.
	IssuedAt time.Time

	// ExpiresAt is when the underlying upstream credential expires.
	ExpiresAt time.Time
}

// RawIDToken extracts the id_token from an exchanged token set.
// Returns "" when the provider did not issue one.
func RawIDToken(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	raw, _ := token.Extra("id_token").(string)
	return raw
}
