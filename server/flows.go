package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/kestrelhq/dirgate/providers"
	"github.com/kestrelhq/dirgate/security"
	"github.com/kestrelhq/dirgate/storage"
)

// FlowError describes a failed authorization attempt together with how the
// failure may be delivered. Redirectable errors go back to the caller's
// redirect_uri as query parameters; the rest must be answered with a JSON
// body because no verified redirect target exists.
type FlowError struct {
	Code         string
	Description  string
	Redirectable bool
}

func (e *FlowError) Error() string {
	return e.Code + ": " + e.Description
}

// BuildAuthorizationRedirect runs the authorization-endpoint state machine
// and returns the upstream authorization URL on success. Terminal outcomes
// only; each authorization attempt is a fresh user interaction.
//
// Scope, state, and PKCE parameters are forwarded upstream unchanged, and
// the caller's redirect_uri is forwarded as the upstream redirect target,
// so the authorization code travels directly back to the caller.
func (s *Server) BuildAuthorizationRedirect(req *AuthorizationRequest) (string, *FlowError) {
	if verr := ValidateAuthorizationParams(req); verr != nil {
		s.audit(security.Event{
			Type:     security.EventAuthFailure,
			ClientID: req.ClientID,
			Details:  map[string]any{"reason": verr.Error()},
		})
		return "", &FlowError{
			Code:        verr.Code,
			Description: verr.Description,
			// Errors may only be redirected when the caller supplied a
			// syntactically usable target.
			Redirectable: req.RedirectURI != "",
		}
	}

	if !s.CheckClientID(req.ClientID) {
		s.audit(security.Event{
			Type:     security.EventAuthFailure,
			ClientID: req.ClientID,
			Details:  map[string]any{"reason": "client_id mismatch"},
		})
		return "", &FlowError{
			Code:         ErrorCodeInvalidClient,
			Description:  "unknown client",
			Redirectable: true,
		}
	}

	if !s.IsRedirectURIAllowed(req.RedirectURI) {
		s.audit(security.Event{
			Type:     security.EventInvalidRedirect,
			ClientID: req.ClientID,
			Details:  map[string]any{"redirect_uri": req.RedirectURI},
		})
		// Never redirect an error to an unverified target.
		return "", &FlowError{
			Code:         ErrorCodeInvalidRequest,
			Description:  "redirect_uri is not allowed",
			Redirectable: false,
		}
	}

	s.audit(security.Event{
		Type:     security.EventAuthorizationFlowStarted,
		ClientID: req.ClientID,
		Details: map[string]any{
			"redirect_uri":          req.RedirectURI,
			"scope":                 req.Scope,
			"code_challenge_method": req.CodeChallengeMethod,
		},
	})

	authURL := s.provider.AuthorizationURL(req.State, &providers.AuthOptions{
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	return authURL, nil
}

// StartLogin begins an interactive browser login. The generated state is
// persisted with a TTL and must return on the callback; redirectTo is the
// local destination after the login completes.
func (s *Server) StartLogin(ctx context.Context, redirectTo string) (string, error) {
	state := generateRandomToken()
	now := time.Now()

	err := s.flowStore.SaveLoginState(ctx, &storage.LoginState{
		State:      state,
		RedirectTo: redirectTo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.LoginStateTTL),
	})
	if err != nil {
		return "", err
	}

	authURL := s.provider.AuthorizationURL(state, &providers.AuthOptions{
		Scope: s.config.Scope,
	})
	return authURL, nil
}

// ErrInvalidLoginState is returned by CompleteLogin when the callback state
// is unknown, expired, or already consumed.
var ErrInvalidLoginState = errors.New("invalid or expired login state")

// CompleteLogin finishes a browser login on the upstream callback: the
// state is consumed (single use), the code exchanged, and the identity
// resolved. Returns the identity and the stored local destination.
func (s *Server) CompleteLogin(ctx context.Context, state, code string) (*providers.Identity, string, error) {
	ls, err := s.flowStore.ConsumeLoginState(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrLoginStateNotFound) {
			s.audit(security.Event{
				Type:    security.EventInvalidCallback,
				Details: map[string]any{"reason": "state_not_found"},
			})
			return nil, "", ErrInvalidLoginState
		}
		return nil, "", err
	}

	// The state is consumed and the code is single use upstream; a caller
	// that disconnects here must not cancel the exchange mid-flight. The
	// provider's own HTTP timeout bounds the detached call.
	upstream := context.WithoutCancel(ctx)

	start := time.Now()
	token, err := s.provider.ExchangeCode(upstream, code, s.CallbackURL())
	s.recordProviderCall(upstream, "exchange_code", start, err)
	if err != nil {
		s.audit(security.Event{
			Type:    security.EventAuthFailure,
			Details: map[string]any{"reason": "callback_exchange_failed"},
		})
		return nil, "", err
	}

	start = time.Now()
	identity, err := s.provider.FetchIdentity(upstream, token)
	s.recordProviderCall(upstream, "fetch_identity", start, err)
	if err != nil {
		return nil, "", err
	}

	return identity, ls.RedirectTo, nil
}

// RedeemCode runs the token-endpoint exchange: the code is marked redeemed
// in the flow store before the upstream call, so a replayed code fails
// locally instead of consuming the upstream code twice. The upstream
// exchange itself is never retried.
//
// A supplied code_verifier is accepted for protocol compatibility but is
// not checked against a stored challenge here: the challenge was forwarded
// to the upstream provider, which is the only party able to verify it.
func (s *Server) RedeemCode(ctx context.Context, req *TokenRequest, clientIP string) (*oauth2.Token, *providers.Identity, *RequestError) {
	fresh, err := s.flowStore.MarkCodeRedeemed(ctx, req.Code, s.config.CodeReplayTTL)
	if err != nil {
		s.logger.Error("Failed to mark authorization code redeemed", "error", err)
		return nil, nil, &RequestError{
			Code:        ErrorCodeServerError,
			Description: "temporary failure, try again",
		}
	}
	if !fresh {
		if s.Metrics != nil {
			s.Metrics.RecordCodeReplayDetected(ctx)
		}
		s.Auditor.LogCodeReplayed(req.ClientID, clientIP)
		s.logger.Warn("Authorization code replay detected",
			"client_id", req.ClientID,
			"ip", clientIP)
		// Generic error per RFC 6749; no detail for the caller.
		return nil, nil, &RequestError{
			Code:        ErrorCodeInvalidGrant,
			Description: "authorization code is invalid or expired",
		}
	}

	// The code was just marked redeemed; an aborted caller must not cancel
	// the upstream redemption or the code is spent with nothing to show.
	// The result is still discarded if the caller is gone.
	upstream := context.WithoutCancel(ctx)

	start := time.Now()
	token, err := s.provider.ExchangeCode(upstream, req.Code, req.RedirectURI)
	s.recordProviderCall(upstream, "exchange_code", start, err)
	if err != nil {
		s.logger.Debug("Upstream code exchange failed",
			"client_id", req.ClientID,
			"error", err)
		s.Auditor.LogAuthFailure("", req.ClientID, clientIP, "upstream_exchange_failed")
		return nil, nil, &RequestError{
			Code:        ErrorCodeInvalidGrant,
			Description: "authorization code is invalid or expired",
		}
	}

	start = time.Now()
	identity, err := s.provider.FetchIdentity(upstream, token)
	s.recordProviderCall(upstream, "fetch_identity", start, err)
	if err != nil {
		s.logger.Debug("Upstream identity fetch failed",
			"client_id", req.ClientID,
			"error", err)
		s.Auditor.LogAuthFailure("", req.ClientID, clientIP, "identity_fetch_failed")
		return nil, nil, &RequestError{
			Code:        ErrorCodeInvalidGrant,
			Description: "authorization code is invalid or expired",
		}
	}

	s.Auditor.LogTokenExchanged(identity.Subject, req.ClientID, clientIP, "")

	return token, identity, nil
}

func (s *Server) audit(event security.Event) {
	s.Auditor.LogEvent(event)
}

// recordProviderCall records one upstream provider API call when flow
// metrics are enabled.
func (s *Server) recordProviderCall(ctx context.Context, operation string, start time.Time, err error) {
	if s.Metrics == nil {
		return
	}
	duration := time.Since(start).Seconds() * 1000
	s.Metrics.RecordProviderAPICall(ctx, s.provider.Name(), operation, duration, err)
}
