package dirgate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kestrelhq/dirgate/session"
)

// startLoginAndGetState drives ServeLogin and pulls the generated state out
// of the upstream redirect.
func startLoginAndGetState(t *testing.T, handler *Handler, redirectTo string) string {
	t.Helper()

	target := "/auth/login"
	if redirectTo != "" {
		target += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()

	handler.ServeLogin(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, want %d", w.Code, http.StatusFound)
	}
	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse Location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("upstream redirect carries no state")
	}
	return state
}

func TestServeLogin(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	w := httptest.NewRecorder()

	handler.ServeLogin(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "https://idp.example.com/authorize") {
		t.Errorf("Location = %q, want upstream authorization URL", w.Header().Get("Location"))
	}
}

func TestServeCallback_FullLogin(t *testing.T) {
	handler, _ := setupTestHandler(t)

	state := startLoginAndGetState(t, handler, "/dashboard")

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+url.QueryEscape(state)+"&code=upstream-code", nil)
	w := httptest.NewRecorder()

	handler.ServeCallback(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if got := w.Header().Get("Location"); got != "/dashboard" {
		t.Errorf("Location = %q, want /dashboard", got)
	}

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("no session cookie set")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if !sessionCookie.Secure {
		t.Error("session cookie is not Secure on an https gateway")
	}

	// The cookie authenticates the session-status endpoint.
	statusReq := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	statusReq.AddCookie(sessionCookie)
	statusW := httptest.NewRecorder()

	handler.ServeSessionStatus(statusW, statusReq)

	if statusW.Code != http.StatusOK {
		t.Fatalf("session status = %d, want %d", statusW.Code, http.StatusOK)
	}
	var status SessionStatusResponse
	if err := json.NewDecoder(statusW.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode session status: %v", err)
	}
	if !status.Authenticated {
		t.Fatal("Authenticated = false after a completed login")
	}
	if status.User == nil || status.User.Subject != "mock-user-123" {
		t.Errorf("User = %+v, want subject mock-user-123", status.User)
	}
}

func TestServeCallback_OpenRedirectBlocked(t *testing.T) {
	handler, _ := setupTestHandler(t)

	state := startLoginAndGetState(t, handler, "//evil.example.com/phish")

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+url.QueryEscape(state)+"&code=upstream-code", nil)
	w := httptest.NewRecorder()

	handler.ServeCallback(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if got := w.Header().Get("Location"); got != "/" {
		t.Errorf("Location = %q, want / (scheme-relative target rejected)", got)
	}
}

func TestServeCallback_Failures(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantError string
	}{
		{
			name:      "upstream error param",
			query:     "error=access_denied&error_description=user+cancelled",
			wantError: "access_denied",
		},
		{
			name:      "missing code",
			query:     "state=some-state",
			wantError: "invalid_callback",
		},
		{
			name:      "missing state",
			query:     "code=some-code",
			wantError: "invalid_callback",
		},
		{
			name:      "unknown state",
			query:     "state=never-issued&code=some-code",
			wantError: "invalid_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := setupTestHandler(t)

			req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+tt.query, nil)
			w := httptest.NewRecorder()

			handler.ServeCallback(w, req)

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
			}
			wantLocation := "/auth/error?code=" + tt.wantError
			if got := w.Header().Get("Location"); got != wantLocation {
				t.Errorf("Location = %q, want %q", got, wantLocation)
			}

			// No session cookie on any failure path.
			for _, c := range w.Result().Cookies() {
				if c.Name == session.CookieName {
					t.Error("session cookie set on a failed callback")
				}
			}
		})
	}
}

func TestServeSessionStatus_NoSession(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	w := httptest.NewRecorder()

	handler.ServeSessionStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var status SessionStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode session status: %v", err)
	}
	if status.Authenticated {
		t.Error("Authenticated = true without a cookie")
	}
	if status.User != nil {
		t.Error("User set without a session")
	}
}

func TestServeSessionStatus_GarbageCookie(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "garbage"})
	w := httptest.NewRecorder()

	handler.ServeSessionStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var status SessionStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode session status: %v", err)
	}
	if status.Authenticated {
		t.Error("Authenticated = true for a garbage cookie")
	}
}

func TestServeLogout(t *testing.T) {
	handler, _ := setupTestHandler(t)

	t.Run("JSON for API callers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Accept", "application/json")
		w := httptest.NewRecorder()

		handler.ServeLogout(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp LogoutResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode logout response: %v", err)
		}
		if !resp.LoggedOut {
			t.Error("LoggedOut = false")
		}
	})

	t.Run("redirect for browsers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		w := httptest.NewRecorder()

		handler.ServeLogout(w, req)

		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		if got := w.Header().Get("Location"); got != "/auth/login" {
			t.Errorf("Location = %q, want /auth/login", got)
		}
	})

	t.Run("cookie cleared", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
		w := httptest.NewRecorder()

		handler.ServeLogout(w, req)

		var cleared *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == session.CookieName {
				cleared = c
			}
		}
		if cleared == nil {
			t.Fatal("no session cookie in logout response")
		}
		if cleared.Value != "" || cleared.MaxAge != -1 {
			t.Errorf("cookie = {Value: %q, MaxAge: %d}, want cleared", cleared.Value, cleared.MaxAge)
		}
	})
}

func TestServeErrorPage(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/error?code=invalid_state", nil)
	w := httptest.NewRecorder()

	handler.ServeErrorPage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", got)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Sign-in session expired") {
		t.Errorf("body does not carry the invalid_state copy: %s", body)
	}
	if !strings.Contains(body, "/auth/login") {
		t.Error("body has no link back to login")
	}
}

func TestServeErrorPage_UnknownCodeNotEchoed(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/error?code=%3Cscript%3Ealert(1)%3C/script%3E", nil)
	w := httptest.NewRecorder()

	handler.ServeErrorPage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "<script>") {
		t.Error("error page echoes unescaped input")
	}
	if !strings.Contains(w.Body.String(), "Sign-in failed") {
		t.Error("unknown code did not fall through to the generic copy")
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"/", true},
		{"/dashboard", true},
		{"/a/b?c=d", true},
		{"", false},
		{"//evil.example.com", false},
		{"https://evil.example.com", false},
		{"dashboard", false},
	}

	for _, tt := range tests {
		if got := isLocalPath(tt.target); got != tt.want {
			t.Errorf("isLocalPath(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}
