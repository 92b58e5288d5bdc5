package session

import (
	"net/http"
	"time"
)

// CookieName is the first-party session cookie name.
const CookieName = "dirgate_session"

// NewCookie builds the session cookie for an issued session. HttpOnly and
// SameSite=Lax always; Secure tracks whether the gateway is served over
// HTTPS.
func NewCookie(s *Session, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    s.Credential,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearedCookie instructs the client to discard the session cookie.
func ClearedCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromRequest extracts the session credential from the request cookie.
// Returns "" when no cookie is present.
func FromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
