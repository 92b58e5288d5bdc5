package dirgate

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelhq/dirgate/instrumentation"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/server"
	"github.com/kestrelhq/dirgate/session"
)

// ServeLogin begins an interactive browser login. The optional redirect_to
// query parameter names the local destination after the login completes.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("login", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "login") {
		h.recordHTTPMetrics("login", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	redirectTo := r.URL.Query().Get("redirect_to")
	if !isLocalPath(redirectTo) {
		redirectTo = "/"
	}

	authURL, err := h.server.flows.StartLogin(r.Context(), redirectTo)
	if err != nil {
		h.logger.Error("Failed to start login flow", "error", err)
		h.recordHTTPMetrics("login", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrServerError("Failed to start login flow"))
		return
	}

	h.recordHTTPMetrics("login", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles the upstream provider callback for browser logins.
// All failure paths land on the local error page; the upstream error code
// is never reflected into a redirect target.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "dirgate.http.callback")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("callback", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	code := query.Get("code")

	if errorParam := query.Get("error"); errorParam != "" {
		h.logger.Warn("Upstream provider returned error",
			"error", errorParam,
			"description", query.Get("error_description"))
		h.recordCallbackProcessed(false)
		h.recordHTTPMetrics("callback", r.Method, http.StatusFound, startTime)
		instrumentation.SetSpanError(span, errorParam)
		h.redirectToErrorPage(w, r, errorParam)
		return
	}

	if state == "" || code == "" {
		h.recordCallbackProcessed(false)
		h.recordHTTPMetrics("callback", r.Method, http.StatusFound, startTime)
		instrumentation.SetSpanError(span, "missing state or code")
		h.redirectToErrorPage(w, r, "invalid_callback")
		return
	}

	identity, redirectTo, err := h.server.flows.CompleteLogin(ctx, state, code)
	if err != nil {
		h.recordCallbackProcessed(false)
		h.recordHTTPMetrics("callback", r.Method, http.StatusFound, startTime)
		instrumentation.RecordError(span, err)
		if errors.Is(err, server.ErrInvalidLoginState) {
			h.redirectToErrorPage(w, r, "invalid_state")
			return
		}
		h.logger.Error("Failed to complete login", "error", err)
		h.redirectToErrorPage(w, r, "upstream_error")
		return
	}

	sess, err := h.server.sessions.Issue(identity, h.server.config.Flow.SessionTTL)
	if err != nil {
		h.logger.Error("Failed to issue session", "error", err)
		h.recordCallbackProcessed(false)
		h.recordHTTPMetrics("callback", r.Method, http.StatusFound, startTime)
		instrumentation.RecordError(span, err)
		h.redirectToErrorPage(w, r, "server_error")
		return
	}

	clientIP := h.clientIP(r)
	h.server.auditor.LogSessionIssued(identity.Subject, clientIP, h.server.config.Flow.SessionTTL)
	h.logger.Info("Browser login completed", "ip", clientIP)

	h.recordCallbackProcessed(true)
	h.recordSessionIssued()
	h.recordHTTPMetrics("callback", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.SetCookie(w, session.NewCookie(sess, h.server.CookieSecure()))

	if !isLocalPath(redirectTo) {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// ServeSessionStatus reports whether a valid session cookie accompanied
// the request. Always 200; the body carries the verdict.
func (h *Handler) ServeSessionStatus(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("session", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	credential := session.FromRequest(r)
	result := h.server.sessions.Validate(credential)
	if !result.Valid {
		if credential != "" {
			h.server.auditor.LogSessionRejected(h.clientIP(r), "invalid_or_expired")
			h.recordSessionRejected("invalid_or_expired")
		}
		h.recordHTTPMetrics("session", r.Method, http.StatusOK, startTime)
		h.writeJSON(w, http.StatusOK, SessionStatusResponse{
			Authenticated: false,
			Message:       "not authenticated",
		})
		return
	}

	h.recordHTTPMetrics("session", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, SessionStatusResponse{
		Authenticated: true,
		User: &SessionUser{
			Subject: result.Claims.Subject,
			Email:   result.Claims.Email,
			Name:    result.Claims.Name,
		},
	})
}

// ServeLogout clears the session cookie. Sessions are self-contained, so
// this is client-side only: an already-issued credential stays valid until
// its natural expiry. API callers get JSON; browsers are redirected to the
// login entry.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("logout", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.SetCookie(w, session.ClearedCookie(h.server.CookieSecure()))
	h.server.auditor.LogEvent(security.Event{
		Type:      security.EventSessionEnded,
		IPAddress: h.clientIP(r),
	})

	if wantsJSON(r) {
		h.recordHTTPMetrics("logout", r.Method, http.StatusOK, startTime)
		h.writeJSON(w, http.StatusOK, LogoutResponse{
			LoggedOut: true,
			Message:   "session cookie cleared",
		})
		return
	}

	h.recordHTTPMetrics("logout", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

// redirectToErrorPage sends the browser to the local error page keyed by
// error code.
func (h *Handler) redirectToErrorPage(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/auth/error?code="+template.URLQueryEscaper(code), http.StatusFound)
}

// errorPageTemplate renders the browser-facing error page. Kept deliberately
// plain: no external assets, inline styles only.
var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Sign-in problem</title>
  <style>
    body { font-family: -apple-system, sans-serif; display: flex; justify-content: center;
           align-items: center; min-height: 100vh; margin: 0; background: #f5f5f5; }
    .card { background: white; border-radius: 8px; padding: 2.5rem; max-width: 28rem;
            box-shadow: 0 1px 4px rgba(0,0,0,0.1); }
    h1 { font-size: 1.25rem; margin: 0 0 0.75rem; }
    p { color: #444; line-height: 1.5; margin: 0 0 1.25rem; }
    a { color: #0366d6; }
    .code { color: #888; font-size: 0.8rem; }
  </style>
</head>
<body>
  <div class="card">
    <h1>{{.Title}}</h1>
    <p>{{.Message}}</p>
    <p><a href="/auth/login">Try signing in again</a></p>
    <p class="code">{{.Code}}</p>
  </div>
</body>
</html>
`))

type errorPageData struct {
	Code    string
	Title   string
	Message string
}

// errorPageContent maps error codes to actionable page text. Unknown codes
// fall through to a generic entry so the page never echoes raw input.
var errorPageContent = map[string]errorPageData{
	"access_denied": {
		Title:   "Sign-in was cancelled",
		Message: "You declined the sign-in request at the identity provider. No session was created.",
	},
	"invalid_state": {
		Title:   "Sign-in session expired",
		Message: "This sign-in attempt is no longer valid. It may have expired or already been used.",
	},
	"invalid_callback": {
		Title:   "Incomplete sign-in response",
		Message: "The identity provider's response was missing required parameters.",
	},
	"upstream_error": {
		Title:   "Identity provider error",
		Message: "The identity provider could not complete the sign-in. Please try again in a moment.",
	},
	"server_error": {
		Title:   "Something went wrong",
		Message: "An internal error interrupted the sign-in. Please try again.",
	},
}

// ServeErrorPage renders the browser error page keyed by the code query
// parameter.
func (h *Handler) ServeErrorPage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("error_page", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	data, ok := errorPageContent[code]
	if !ok {
		data = errorPageData{
			Title:   "Sign-in failed",
			Message: "The sign-in could not be completed. Please try again.",
		}
	}
	data.Code = code
	if data.Code == "" {
		data.Code = "unknown_error"
	}

	security.SetSecurityHeaders(w, h.server.BaseURL())
	// The page carries inline styles; the default CSP would strip them.
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := errorPageTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render error page", "error", err)
	}
	h.recordHTTPMetrics("error_page", r.Method, http.StatusOK, startTime)
}

// isLocalPath reports whether target is a same-origin absolute path.
// Rejects scheme-relative ("//evil.example") and absolute URLs so login
// redirects cannot become open redirects.
func isLocalPath(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
}

// wantsJSON reports whether the caller prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/html")
}
