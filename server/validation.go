package server

// OAuth 2.0 error codes from RFC 6749 used by the validators.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeServerError             = "server_error"
)

// PKCE constants (RFC 7636). Only S256 is accepted; the plain method is a
// downgrade and is rejected.
const (
	ResponseTypeCode      = "code"
	GrantAuthorizationCode = "authorization_code"
	PKCEMethodS256        = "S256"
)

// AuthorizationRequest holds the parsed parameters of an authorization
// request. Immutable after parsing; discarded after validation/redirect.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest holds the parsed parameters of a token-exchange request.
// Transient, one exchange only.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
}

// RequestError is a protocol validation failure with its OAuth error code.
type RequestError struct {
	Code        string
	Description string
}

func (e *RequestError) Error() string {
	return e.Code + ": " + e.Description
}

// ValidateAuthorizationParams checks an authorization request against the
// protocol rules. The first failing rule wins; there is no partial success.
func ValidateAuthorizationParams(req *AuthorizationRequest) *RequestError {
	if req.ResponseType != ResponseTypeCode {
		return &RequestError{
			Code:        ErrorCodeUnsupportedResponseType,
			Description: "only response_type=code is supported",
		}
	}
	if req.ClientID == "" {
		return &RequestError{
			Code:        ErrorCodeInvalidRequest,
			Description: "client_id is required",
		}
	}
	if req.RedirectURI == "" {
		return &RequestError{
			Code:        ErrorCodeInvalidRequest,
			Description: "redirect_uri is required",
		}
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != PKCEMethodS256 {
		return &RequestError{
			Code:        ErrorCodeInvalidRequest,
			Description: "code_challenge_method must be S256",
		}
	}
	return nil
}

// ValidateTokenParams checks a token-exchange request. Same fail-fast,
// first-violation-wins contract as ValidateAuthorizationParams.
func ValidateTokenParams(req *TokenRequest) *RequestError {
	if req.GrantType != GrantAuthorizationCode {
		return &RequestError{
			Code:        ErrorCodeUnsupportedGrantType,
			Description: "only grant_type=authorization_code is supported",
		}
	}
	if req.Code == "" {
		return &RequestError{
			Code:        ErrorCodeInvalidRequest,
			Description: "code is required",
		}
	}
	if req.RedirectURI == "" {
		return &RequestError{
			Code:        ErrorCodeInvalidRequest,
			Description: "redirect_uri is required",
		}
	}
	return nil
}
