// Package server implements the gateway's OAuth 2.1 flow logic: parameter
// validation, client authentication, redirect-URI policy, and the
// authorization and token-exchange state machines.
package server

import (
	"fmt"
	"net/url"
	"strings"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// dangerousSchemes lists URI schemes that must never be allowed as redirect
// targets regardless of configuration.
var dangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// loopbackHosts lists host spellings folded together during normalization,
// so a client registered with 127.0.0.1 can request localhost and vice
// versa.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"[::1]":     true,
}

const canonicalLoopbackHost = "localhost"

// DefaultBaseURL is the local development fallback.
const DefaultBaseURL = "http://localhost:8080"

// ResolveBaseURL resolves the gateway's externally visible base URL from
// configuration. Precedence: explicit public URL override, then the
// platform-assigned external URL, then the local development default.
// Pure function of its inputs.
func ResolveBaseURL(publicURL, platformURL string) string {
	switch {
	case publicURL != "":
		return strings.TrimSuffix(publicURL, "/")
	case platformURL != "":
		return strings.TrimSuffix(platformURL, "/")
	default:
		return DefaultBaseURL
	}
}

// NormalizeRedirectURI canonicalizes a redirect URI for allow-list
// comparison: scheme and host are lowercased, the trailing slash is
// stripped, default ports are dropped, and loopback aliases are folded to
// a single spelling. Invalid URIs normalize to "" which never matches.
func NormalizeRedirectURI(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if loopbackHosts[host] {
		host = canonicalLoopbackHost
	}

	port := u.Port()
	if (scheme == SchemeHTTP && port == "80") || (scheme == SchemeHTTPS && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := strings.TrimSuffix(u.Path, "/")

	normalized := scheme + "://" + host + path
	if u.RawQuery != "" {
		normalized += "?" + u.RawQuery
	}
	return normalized
}

// IsRedirectURIAllowed reports whether a redirect URI is an exact
// (normalized) match for an allow-list entry. Anything else is rejected:
// the policy fails closed.
func (s *Server) IsRedirectURIAllowed(raw string) bool {
	if err := checkRedirectURISyntax(raw); err != nil {
		return false
	}

	normalized := NormalizeRedirectURI(raw)
	if normalized == "" {
		return false
	}

	for _, allowed := range s.allowedRedirectURIs() {
		if NormalizeRedirectURI(allowed) == normalized {
			return true
		}
	}
	return false
}

// allowedRedirectURIs is the effective allow-list: the gateway's own
// callback URL plus the configured static entries.
func (s *Server) allowedRedirectURIs() []string {
	return append([]string{s.CallbackURL()}, s.config.AllowedRedirectURIs...)
}

// checkRedirectURISyntax rejects structurally unusable redirect URIs before
// any allow-list comparison: dangerous schemes, fragments, missing host.
func checkRedirectURISyntax(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	for _, bad := range dangerousSchemes {
		if scheme == bad {
			return fmt.Errorf("scheme %q is not allowed", scheme)
		}
	}
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		return fmt.Errorf("unsupported redirect URI scheme %q", scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("redirect URI has no host")
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI must not contain a fragment")
	}
	return nil
}
