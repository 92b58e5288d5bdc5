package dirgate

import (
	"net/http"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("bad"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("bad"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("bad"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid token", ErrInvalidToken("bad"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unsupported response type", ErrUnsupportedResponseType("bad"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("bad"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"server error", ErrServerError("bad"), ErrorCodeServerError, http.StatusInternalServerError},
		{"access denied", ErrAccessDenied("bad"), ErrorCodeAccessDenied, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "bad" {
				t.Errorf("Description = %q, want %q", tt.err.Description, "bad")
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrorCodeInvalidGrant, "code expired", http.StatusBadRequest)
	if got, want := err.Error(), "invalid_grant: code expired"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// oauthError is what the HTTP layer uses to pick the status for each flow
// error code, so the mapping has to stay total over the codes the flow
// engine can emit.
func TestOAuthErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{ErrorCodeInvalidRequest, http.StatusBadRequest},
		{ErrorCodeInvalidGrant, http.StatusBadRequest},
		{ErrorCodeInvalidClient, http.StatusUnauthorized},
		{ErrorCodeInvalidToken, http.StatusUnauthorized},
		{ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{ErrorCodeServerError, http.StatusInternalServerError},
		{ErrorCodeAccessDenied, http.StatusForbidden},
		// Unrecognized codes keep their code and get a 400.
		{"temporarily_unavailable", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			oerr := oauthError(tt.code, "detail")
			if oerr.Code != tt.code {
				t.Errorf("Code = %q, want %q", oerr.Code, tt.code)
			}
			if oerr.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", oerr.Status, tt.wantStatus)
			}
			if oerr.Description != "detail" {
				t.Errorf("Description = %q, want %q", oerr.Description, "detail")
			}
		})
	}
}
