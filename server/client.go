package server

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// CheckClientID reports whether the presented client_id matches the
// configured client, compared in constant time.
func (s *Server) CheckClientID(clientID string) bool {
	return subtle.ConstantTimeCompare([]byte(clientID), []byte(s.config.ClientID)) == 1
}

// AuthenticateClient verifies the caller's client credentials.
// The secret may arrive in the request body or via HTTP Basic; the caller
// resolves which and passes the first one found.
func (s *Server) AuthenticateClient(clientID, clientSecret string) *RequestError {
	if !s.CheckClientID(clientID) {
		return &RequestError{
			Code:        ErrorCodeInvalidClient,
			Description: "unknown client",
		}
	}
	if clientSecret == "" {
		return &RequestError{
			Code:        ErrorCodeInvalidClient,
			Description: "client authentication required",
		}
	}
	if err := bcrypt.CompareHashAndPassword(s.secretHash, []byte(clientSecret)); err != nil {
		return &RequestError{
			Code:        ErrorCodeInvalidClient,
			Description: "client authentication failed",
		}
	}
	return nil
}
