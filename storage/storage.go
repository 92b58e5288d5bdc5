// Package storage defines the flow-state store used by the gateway.
//
// The gateway itself is stateless per request; the only mutable state it
// needs is short-lived flow bookkeeping: pending browser login states and
// redeemed-code marks for replay detection. Both are keyed values with a
// TTL, so the store can be backed by process memory for single-instance
// deployments or by an external cache (see storage/valkey) when the
// gateway runs with more than one replica.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrLoginStateNotFound is returned when a login state does not exist,
// has expired, or was already consumed.
var ErrLoginStateNotFound = errors.New("login state not found")

// LoginState tracks a pending browser login flow between the redirect to
// the upstream provider and the callback. Single use: consuming a state
// deletes it.
type LoginState struct {
	// State is the random value sent to the upstream provider.
	State string

	// RedirectTo is the local destination after a successful login.
	RedirectTo string

	// CreatedAt and ExpiresAt bound the flow's lifetime.
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FlowStore persists short-lived flow state. All methods are safe for
// concurrent use and honor context cancellation where the backend supports
// it.
type FlowStore interface {
	// SaveLoginState stores a pending login flow until ExpiresAt.
	SaveLoginState(ctx context.Context, state *LoginState) error

	// ConsumeLoginState atomically fetches and deletes a login state.
	// Returns ErrLoginStateNotFound for unknown, expired, or already
	// consumed states.
	ConsumeLoginState(ctx context.Context, state string) (*LoginState, error)

	// MarkCodeRedeemed atomically records that an authorization code has
	// been presented to the token endpoint. Returns false when the code
	// was already marked, which callers treat as a replay. The mark
	// expires after ttl.
	MarkCodeRedeemed(ctx context.Context, code string, ttl time.Duration) (bool, error)
}
