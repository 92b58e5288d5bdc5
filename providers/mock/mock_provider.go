// Package mock provides a scriptable implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/kestrelhq/dirgate/providers"
)

// MockProvider is a scriptable implementation of providers.Provider.
// Each method delegates to the corresponding Func field, which tests may
// replace to simulate upstream behavior.
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string, opts *providers.AuthOptions) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)

	// FetchIdentityFunc is called when FetchIdentity() is invoked
	FetchIdentityFunc func(ctx context.Context, token *oauth2.Token) (*providers.Identity, error)

	// ValidateTokenFunc is called when ValidateToken() is invoked
	ValidateTokenFunc func(ctx context.Context, accessToken string) (*providers.Identity, error)

	// HealthCheckFunc is called when HealthCheck() is invoked
	HealthCheckFunc func(ctx context.Context) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a mock provider with default implementations:
// exchanges succeed once per code, identities resolve to a fixed test user.
func NewMockProvider() *MockProvider {
	redeemed := make(map[string]bool)
	var redeemedMu sync.Mutex

	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string, opts *providers.AuthOptions) string {
			if opts == nil {
				opts = &providers.AuthOptions{}
			}
			q := url.Values{}
			q.Set("state", state)
			if opts.Scope != "" {
				q.Set("scope", opts.Scope)
			}
			if opts.CodeChallenge != "" {
				q.Set("code_challenge", opts.CodeChallenge)
				q.Set("code_challenge_method", opts.CodeChallengeMethod)
			}
			if opts.RedirectURI != "" {
				q.Set("redirect_uri", opts.RedirectURI)
			}
			return "https://idp.example.com/authorize?" + q.Encode()
		},
		ExchangeCodeFunc: func(_ context.Context, code, _ string) (*oauth2.Token, error) {
			redeemedMu.Lock()
			defer redeemedMu.Unlock()
			if redeemed[code] {
				return nil, fmt.Errorf("invalid_grant: code already redeemed")
			}
			redeemed[code] = true
			return &oauth2.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		},
		FetchIdentityFunc: func(_ context.Context, _ *oauth2.Token) (*providers.Identity, error) {
			return &providers.Identity{
				Subject:   "mock-user-123",
				Email:     "mock@example.com",
				Name:      "Mock User",
				IssuedAt:  time.Now(),
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
		ValidateTokenFunc: func(_ context.Context, accessToken string) (*providers.Identity, error) {
			if accessToken != "mock-access-token" {
				return nil, fmt.Errorf("invalid token")
			}
			return &providers.Identity{
				Subject:   "mock-user-123",
				Email:     "mock@example.com",
				Name:      "Mock User",
				IssuedAt:  time.Now(),
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
		HealthCheckFunc: func(_ context.Context) error {
			return nil
		},
	}
}

// Name implements providers.Provider
func (m *MockProvider) Name() string {
	m.recordCall("Name")
	return m.NameFunc()
}

// AuthorizationURL implements providers.Provider
func (m *MockProvider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	m.recordCall("AuthorizationURL")
	return m.AuthorizationURLFunc(state, opts)
}

// ExchangeCode implements providers.Provider
func (m *MockProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	m.recordCall("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, code, redirectURI)
}

// FetchIdentity implements providers.Provider
func (m *MockProvider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*providers.Identity, error) {
	m.recordCall("FetchIdentity")
	return m.FetchIdentityFunc(ctx, token)
}

// ValidateToken implements providers.Provider
func (m *MockProvider) ValidateToken(ctx context.Context, accessToken string) (*providers.Identity, error) {
	m.recordCall("ValidateToken")
	return m.ValidateTokenFunc(ctx, accessToken)
}

// HealthCheck implements providers.Provider
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.recordCall("HealthCheck")
	return m.HealthCheckFunc(ctx)
}

// GetCallCount returns how many times the named method was invoked.
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

func (m *MockProvider) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

var _ providers.Provider = (*MockProvider)(nil)
