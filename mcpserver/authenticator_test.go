package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/providers/mock"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/session"
)

func newTestAuthenticator(t *testing.T, config AuthenticatorConfig) (*Authenticator, *mock.MockProvider, *session.Manager) {
	t.Helper()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	sessions, err := session.NewManager(key)
	require.NoError(t, err)

	provider := mock.NewMockProvider()
	return NewAuthenticator(provider, sessions, config, nil), provider, sessions
}

func sessionCookie(t *testing.T, sessions *session.Manager) *http.Cookie {
	t.Helper()

	sess, err := sessions.Issue(&providers.Identity{
		Subject: "cookie-user",
		Email:   "cookie@example.com",
	}, time.Hour)
	require.NoError(t, err)
	return session.NewCookie(sess, false)
}

func TestAuthenticate_ValidBearer(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t, AuthenticatorConfig{})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer mock-access-token")

	identity, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "mock-user-123", identity.Subject)
	assert.Equal(t, SourceBearer, identity.Source)
	assert.True(t, identity.HasScope(ScopeDirectoryRead))
	assert.True(t, identity.HasScope(ScopeDirectoryWrite))
}

func TestAuthenticate_BearerSchemeCaseInsensitive(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t, AuthenticatorConfig{})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "bearer mock-access-token")

	identity, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, SourceBearer, identity.Source)
}

func TestAuthenticate_InvalidBearer(t *testing.T) {
	auth, provider, _ := newTestAuthenticator(t, AuthenticatorConfig{})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer bogus-token")

	_, err := auth.Authenticate(r)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, 1, provider.GetCallCount("ValidateToken"))
}

func TestAuthenticate_MalformedBearerNoCookieFallback(t *testing.T) {
	// A present-but-unusable Authorization header is a bearer verdict:
	// the session cookie on the same request must not rescue it.
	auth, provider, sessions := newTestAuthenticator(t, AuthenticatorConfig{})

	tests := []struct {
		name   string
		header string
	}{
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "scheme only", header: "Bearer"},
		{name: "empty token", header: "Bearer   "},
		{name: "bare token", header: "mock-access-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			r.Header.Set("Authorization", tt.header)
			r.AddCookie(sessionCookie(t, sessions))

			_, err := auth.Authenticate(r)
			assert.ErrorIs(t, err, ErrAuthRequired)
		})
	}

	assert.Zero(t, provider.GetCallCount("ValidateToken"),
		"malformed headers must fail before the upstream call")
}

func TestAuthenticate_SessionCookie(t *testing.T) {
	auth, provider, sessions := newTestAuthenticator(t, AuthenticatorConfig{})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.AddCookie(sessionCookie(t, sessions))

	identity, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "cookie-user", identity.Subject)
	assert.Equal(t, SourceSession, identity.Source)
	assert.True(t, identity.HasScope(ScopeDirectoryRead))
	assert.False(t, identity.HasScope(ScopeDirectoryWrite),
		"sessions are read-only by default")
	assert.Zero(t, provider.GetCallCount("ValidateToken"))
}

func TestAuthenticate_InvalidSessionCookie(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t, AuthenticatorConfig{})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "garbage"})

	_, err := auth.Authenticate(r)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t, AuthenticatorConfig{})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)

	_, err := auth.Authenticate(r)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestAuthenticate_ConfiguredScopes(t *testing.T) {
	auth, _, sessions := newTestAuthenticator(t, AuthenticatorConfig{
		BearerScopes:  []string{ScopeDirectoryRead},
		SessionScopes: []string{ScopeDirectoryRead, ScopeDirectoryWrite},
	})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer mock-access-token")
	identity, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.False(t, identity.HasScope(ScopeDirectoryWrite))

	r = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.AddCookie(sessionCookie(t, sessions))
	identity, err = auth.Authenticate(r)
	require.NoError(t, err)
	assert.True(t, identity.HasScope(ScopeDirectoryWrite))
}

func TestAuthenticate_BearerRateLimited(t *testing.T) {
	limiter := security.NewRateLimiter(1, 1, nil)
	defer limiter.Stop()

	auth, provider, _ := newTestAuthenticator(t, AuthenticatorConfig{
		RateLimiter: limiter,
	})

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("Authorization", "Bearer mock-access-token")

	_, err := auth.Authenticate(r)
	require.NoError(t, err)

	// The second validation exceeds the per-IP burst and never reaches
	// the provider.
	_, err = auth.Authenticate(r)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, 1, provider.GetCallCount("ValidateToken"))
}

func TestAuthenticate_ProviderErrorNotLeaked(t *testing.T) {
	auth, provider, _ := newTestAuthenticator(t, AuthenticatorConfig{})
	provider.ValidateTokenFunc = func(context.Context, string) (*providers.Identity, error) {
		return nil, fmt.Errorf("upstream detail that must stay internal")
	}

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer some-token")

	_, err := auth.Authenticate(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.NotContains(t, err.Error(), "upstream detail")
}
