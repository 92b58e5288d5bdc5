// Package mcpserver is the authenticated JSON-RPC tool surface: a method
// authorization policy, a dual-mode request authenticator (upstream bearer
// token or gateway session cookie), and directory CRUD tools served through
// a mark3labs/mcp-go server.
package mcpserver

import (
	"context"
	"slices"
)

// Credential sources.
const (
	SourceBearer  = "bearer"
	SourceSession = "session"
)

// Directory scopes.
const (
	ScopeDirectoryRead  = "directory:read"
	ScopeDirectoryWrite = "directory:write"
)

// Identity is the authenticated caller attached to a request context.
// Scopes are the configured defaults for the credential source, not claims
// parsed from the credential.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Scopes  []string
	Source  string
}

// HasScope reports whether the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	return id != nil && slices.Contains(id.Scopes, scope)
}

type identityContextKey struct{}

// ContextWithIdentity attaches an authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}
