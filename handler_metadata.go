package dirgate

import (
	"net/http"
	"strings"
	"time"

	"github.com/kestrelhq/dirgate/server"
)

// ServeAuthorizationServerMetadata handles the RFC 8414 discovery endpoint.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("metadata", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "metadata") {
		h.recordHTTPMetrics("metadata", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	baseURL := h.server.BaseURL()
	metadata := AuthorizationServerMetadata{
		Issuer:                            baseURL,
		AuthorizationEndpoint:             baseURL + "/authorize",
		TokenEndpoint:                     baseURL + "/token",
		ScopesSupported:                   strings.Fields(h.server.config.Flow.Scope),
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantAuthorizationCode},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{server.PKCEMethodS256},
	}

	h.recordHTTPMetrics("metadata", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, metadata)
}

// ServeOpenIDConfiguration handles OpenID Connect Discovery requests.
// Per RFC 8414 Section 5 it returns the same metadata as the authorization
// server metadata endpoint.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	h.ServeAuthorizationServerMetadata(w, r)
}

// ServeProtectedResourceMetadata handles the RFC 9728 endpoint describing
// the tool surface as a protected resource.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("metadata", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "metadata") {
		h.recordHTTPMetrics("metadata", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	baseURL := h.server.BaseURL()
	metadata := ProtectedResourceMetadata{
		Resource:               baseURL + "/mcp",
		AuthorizationServers:   []string{baseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        strings.Fields(h.server.config.Flow.Scope),
	}

	h.recordHTTPMetrics("metadata", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, metadata)
}

// ServeClientRegistration rejects dynamic client registration. The gateway
// serves exactly one configured client.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	h.recordHTTPMetrics("register", r.Method, http.StatusMethodNotAllowed, startTime)
	h.writeError(w, NewError(ErrorCodeInvalidRequest,
		"Dynamic client registration is not supported by this server",
		http.StatusMethodNotAllowed))
}
