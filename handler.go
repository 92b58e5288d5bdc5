package dirgate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/kestrelhq/dirgate/instrumentation"
	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/server"
)

const tokenTypeBearer = "Bearer"

// Handler is a thin HTTP adapter for the gateway Server.
// It parses requests, maps flow outcomes onto the OAuth wire formats, and
// delegates all decisions to the Server.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates the HTTP adapter.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.instrumentation != nil {
		h.tracer = server.instrumentation.Tracer("http")
	}

	return h
}

// ServeAuthorization handles the authorization endpoint. POST submissions
// are accepted as a convenience and read through the same parameter lookup
// as GET before entering the flow.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	if h.tracer != nil {
		var ctx context.Context
		ctx, span = h.tracer.Start(r.Context(), "dirgate.http.authorization")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			h.recordHTTPMetrics("authorization", r.Method, http.StatusBadRequest, startTime)
			h.writeError(w, ErrInvalidRequest("Failed to parse request"))
			return
		}
	}

	// FormValue reads the query string for GET and the form body for POST,
	// so a POST is the equivalent GET from here on.
	req := &server.AuthorizationRequest{
		ResponseType:        r.FormValue("response_type"),
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}

	if h.checkRateLimit(w, r, "authorization") {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
		attribute.String(instrumentation.AttrRedirectURI, req.RedirectURI),
		attribute.String(instrumentation.AttrScope, req.Scope),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	authURL, ferr := h.server.flows.BuildAuthorizationRedirect(req)
	if ferr != nil {
		instrumentation.SetSpanError(span, ferr.Code)
		if ferr.Redirectable {
			h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
			h.redirectError(w, r, req.RedirectURI, req.State, ferr.Code, ferr.Description)
			return
		}
		oerr := oauthError(ferr.Code, ferr.Description)
		h.recordHTTPMetrics("authorization", r.Method, oerr.Status, startTime)
		h.writeError(w, oerr)
		return
	}

	h.recordAuthorizationStarted(req.ClientID)
	h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
	instrumentation.AddHTTPAttributes(span, r.Method, "authorization", http.StatusFound)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, authURL, http.StatusFound)
}

// tokenRequestBody is the JSON shape of a token request. Form-encoded
// bodies carry the same fields under the same names.
type tokenRequestBody struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "dirgate.http.token_exchange")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)

	if h.checkRateLimit(w, r, "token") {
		h.recordHTTPMetrics("token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	req, err := h.parseTokenRequest(r)
	if err != nil {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "malformed body")
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
		attribute.String(instrumentation.AttrClientID, req.ClientID),
	)
	if h.server.instrumentation != nil && h.server.instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}

	if verr := server.ValidateTokenParams(req); verr != nil {
		oerr := oauthError(verr.Code, verr.Description)
		h.recordHTTPMetrics("token", r.Method, oerr.Status, startTime)
		instrumentation.SetSpanError(span, verr.Code)
		h.writeError(w, oerr)
		return
	}

	if aerr := h.server.flows.AuthenticateClient(req.ClientID, req.ClientSecret); aerr != nil {
		h.logger.Warn("Client authentication failed", "client_id", req.ClientID, "ip", clientIP)
		h.server.auditor.LogAuthFailure("", req.ClientID, clientIP, "client_authentication_failed")
		oerr := oauthError(aerr.Code, aerr.Description)
		h.recordHTTPMetrics("token", r.Method, oerr.Status, startTime)
		instrumentation.SetSpanError(span, aerr.Code)
		h.writeError(w, oerr)
		return
	}

	if !h.server.flows.IsRedirectURIAllowed(req.RedirectURI) {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "redirect_uri not allowed")
		h.writeError(w, ErrInvalidRequest("redirect_uri is not allowed"))
		return
	}

	token, identity, rerr := h.server.flows.RedeemCode(ctx, req, clientIP)
	if rerr != nil {
		oerr := oauthError(rerr.Code, rerr.Description)
		h.recordHTTPMetrics("token", r.Method, oerr.Status, startTime)
		instrumentation.SetSpanError(span, rerr.Code)
		h.writeError(w, oerr)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", req.ClientID, "ip", clientIP)
	h.recordCodeExchanged(req.ClientID, req.CodeVerifier)
	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrSubject, identity.Subject))
	instrumentation.AddProviderAttributes(span, h.server.flows.Provider().Name(), "exchange_code")
	instrumentation.AddHTTPAttributes(span, r.Method, "token", http.StatusOK)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, token)
}

// parseTokenRequest reads a token request from a JSON or form body per the
// Content-Type, then resolves client credentials: body fields first, HTTP
// Basic as fallback.
func (h *Handler) parseTokenRequest(r *http.Request) (*server.TokenRequest, error) {
	var body tokenRequestBody

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		body = tokenRequestBody{
			GrantType:    r.PostFormValue("grant_type"),
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
			CodeVerifier: r.PostFormValue("code_verifier"),
		}
	}

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		if body.ClientID == "" {
			body.ClientID = basicID
		}
		if body.ClientSecret == "" {
			body.ClientSecret = basicSecret
		}
	}

	return &server.TokenRequest{
		GrantType:    body.GrantType,
		Code:         body.Code,
		RedirectURI:  body.RedirectURI,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		CodeVerifier: body.CodeVerifier,
	}, nil
}

// redirectError sends an OAuth error back to the caller's redirect URI as
// query parameters, echoing the state when present.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		// Unparseable targets get the JSON error body instead.
		h.writeError(w, oauthError(code, description))
		return
	}

	q := target.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token) {
	security.SetSecurityHeaders(w, h.server.BaseURL())

	expiresIn := int64(time.Until(token.Expiry).Seconds())
	if token.Expiry.IsZero() || expiresIn < 0 {
		expiresIn = 3600
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	response := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
		IDToken:      providers.RawIDToken(token),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		response.Scope = scope
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) writeError(w http.ResponseWriter, oerr *Error) {
	security.SetSecurityHeaders(w, h.server.BaseURL())

	if oerr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

// oauthError lifts a flow error onto the wire taxonomy, which carries the
// HTTP status for each error code. Unrecognized codes pass through with a
// 400.
func oauthError(code, description string) *Error {
	switch code {
	case ErrorCodeInvalidRequest:
		return ErrInvalidRequest(description)
	case ErrorCodeInvalidGrant:
		return ErrInvalidGrant(description)
	case ErrorCodeInvalidClient:
		return ErrInvalidClient(description)
	case ErrorCodeInvalidToken:
		return ErrInvalidToken(description)
	case ErrorCodeUnsupportedResponseType:
		return ErrUnsupportedResponseType(description)
	case ErrorCodeUnsupportedGrantType:
		return ErrUnsupportedGrantType(description)
	case ErrorCodeServerError:
		return ErrServerError(description)
	case ErrorCodeAccessDenied:
		return ErrAccessDenied(description)
	default:
		return NewError(code, description, http.StatusBadRequest)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.BaseURL())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.config.Flow.TrustProxy)
}

// checkRateLimit applies the per-IP limiter. Returns true if the request
// was rejected and a response written.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.server.rateLimiter == nil {
		return false
	}

	clientIP := h.clientIP(r)
	if h.server.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.server.auditor.LogRateLimitExceeded(clientIP, "")
	if h.server.instrumentation != nil {
		h.server.instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}

	w.Header().Set("Retry-After", "60")
	h.writeError(w, NewError(ErrorCodeRateLimitExceeded,
		"Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000
	h.server.instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}

func (h *Handler) recordAuthorizationStarted(clientID string) {
	if h.server.instrumentation == nil {
		return
	}
	h.server.instrumentation.Metrics().RecordAuthorizationStarted(context.Background(), clientID)
}

func (h *Handler) recordCodeExchanged(clientID, codeVerifier string) {
	if h.server.instrumentation == nil {
		return
	}
	pkceMethod := ""
	if codeVerifier != "" {
		pkceMethod = server.PKCEMethodS256
	}
	h.server.instrumentation.Metrics().RecordCodeExchange(context.Background(), clientID, pkceMethod)
}

func (h *Handler) recordCallbackProcessed(success bool) {
	if h.server.instrumentation == nil {
		return
	}
	h.server.instrumentation.Metrics().RecordCallbackProcessed(context.Background(), success)
}

func (h *Handler) recordSessionIssued() {
	if h.server.instrumentation == nil {
		return
	}
	h.server.instrumentation.Metrics().RecordSessionIssued(context.Background())
}

func (h *Handler) recordSessionRejected(reason string) {
	if h.server.instrumentation == nil {
		return
	}
	h.server.instrumentation.Metrics().RecordSessionRejected(context.Background(), reason)
}
