// Package oidc implements the providers.Provider interface against any
// OpenID Connect identity provider using issuer discovery.
package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/kestrelhq/dirgate/providers"
)

const defaultHTTPTimeout = 15 * time.Second

// Config holds the upstream OIDC provider configuration.
type Config struct {
	// IssuerURL is the provider's issuer identifier. Discovery is performed
	// against <IssuerURL>/.well-known/openid-configuration.
	IssuerURL string

	// ClientID and ClientSecret are the gateway's credentials at the
	// upstream provider.
	ClientID     string
	ClientSecret string

	// RedirectURL is the gateway's callback URL registered upstream.
	RedirectURL string

	// Scopes requested when the caller supplies none.
	// Defaults to openid, email, profile.
	Scopes []string

	// HTTPClient is an optional custom client. The default enforces a
	// bounded timeout on every upstream call.
	HTTPClient *http.Client
}

// Provider talks to a discovered OIDC provider.
type Provider struct {
	provider    *gooidc.Provider
	oauthConfig *oauth2.Config
	verifier    *gooidc.IDTokenVerifier
	httpClient  *http.Client
	issuerURL   string
}

// New discovers the issuer and builds a provider.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	ctx = gooidc.ClientContext(ctx, httpClient)

	op, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed for %s: %w", cfg.IssuerURL, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}

	return &Provider{
		provider: op,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     op.Endpoint(),
			Scopes:       scopes,
		},
		verifier:   op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
		issuerURL:  cfg.IssuerURL,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "oidc"
}

// AuthorizationURL builds the upstream authorization URL, forwarding scope
// and PKCE parameters unchanged.
func (p *Provider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	if opts == nil {
		opts = &providers.AuthOptions{}
	}

	var codeOpts []oauth2.AuthCodeOption
	if opts.CodeChallenge != "" {
		codeOpts = append(codeOpts,
			oauth2.SetAuthURLParam("code_challenge", opts.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", opts.CodeChallengeMethod),
		)
	}

	cfg := *p.oauthConfig
	if opts.RedirectURI != "" {
		cfg.RedirectURL = opts.RedirectURI
	}
	if opts.Scope != "" {
		cfg.Scopes = splitScope(opts.Scope)
	}
	return cfg.AuthCodeURL(state, codeOpts...)
}

// ExchangeCode performs the single form-encoded code-for-token exchange.
// Upstream errors are surfaced verbatim; the call is never retried.
func (p *Provider) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx = p.clientContext(ctx)

	cfg := *p.oauthConfig
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("upstream code exchange failed: %w", err)
	}
	return token, nil
}

// FetchIdentity resolves the identity bound to exchanged tokens.
// The id_token is verified when present; otherwise the userinfo endpoint is
// queried with the access token. Fails when no stable subject is found.
func (p *Provider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*providers.Identity, error) {
	ctx = p.clientContext(ctx)

	if raw := providers.RawIDToken(token); raw != "" {
		idToken, err := p.verifier.Verify(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("id_token verification failed: %w", err)
		}

		var claims struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to parse id_token claims: %w", err)
		}
		if idToken.Subject == "" {
			return nil, fmt.Errorf("id_token has no subject")
		}

		return &providers.Identity{
			Subject:   idToken.Subject,
			Email:     claims.Email,
			Name:      claims.Name,
			IssuedAt:  time.Now(),
			ExpiresAt: idToken.Expiry,
		}, nil
	}

	return p.identityFromUserInfo(ctx, oauth2.StaticTokenSource(token), token.Expiry)
}

// ValidateToken checks a bearer access token against the userinfo endpoint.
func (p *Provider) ValidateToken(ctx context.Context, accessToken string) (*providers.Identity, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is empty")
	}
	ctx = p.clientContext(ctx)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return p.identityFromUserInfo(ctx, ts, time.Time{})
}

// HealthCheck re-runs discovery against the issuer.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx = p.clientContext(ctx)
	if _, err := gooidc.NewProvider(ctx, p.issuerURL); err != nil {
		return fmt.Errorf("oidc provider unreachable: %w", err)
	}
	return nil
}

func (p *Provider) identityFromUserInfo(ctx context.Context, ts oauth2.TokenSource, expiry time.Time) (*providers.Identity, error) {
	info, err := p.provider.UserInfo(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("userinfo response has no subject")
	}

	var claims struct {
		Name string `json:"name"`
	}
	// Name is optional; ignore claim parse errors.
	_ = info.Claims(&claims)

	return &providers.Identity{
		Subject:   info.Subject,
		Email:     info.Email,
		Name:      claims.Name,
		IssuedAt:  time.Now(),
		ExpiresAt: expiry,
	}, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}
