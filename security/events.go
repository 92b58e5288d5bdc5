package security

// Event type constants for security audit logging. Using constants keeps
// event names consistent across the codebase and greppable in log storage.
const (
	// EventAuthFailure is logged when authentication fails (bad client
	// credentials, invalid bearer token, rejected session).
	EventAuthFailure = "auth_failure"

	// EventAuthorizationFlowStarted is logged when an authorization flow is initiated.
	EventAuthorizationFlowStarted = "authorization_flow_started"

	// EventInvalidRedirect is logged when a redirect URI fails allow-list validation.
	EventInvalidRedirect = "invalid_redirect"

	// EventTokenExchanged is logged when an upstream code exchange succeeds
	// and a wrapped token response is returned.
	EventTokenExchanged = "token_exchanged"

	// EventCodeReplayed is logged when an authorization code is presented twice.
	EventCodeReplayed = "code_replayed"

	// EventInvalidCallback is logged when the upstream callback carries an
	// unknown or expired state parameter.
	EventInvalidCallback = "invalid_callback"

	// EventSessionIssued is logged when a browser session credential is issued.
	EventSessionIssued = "session_issued"

	// EventSessionRejected is logged when a session credential fails validation.
	EventSessionRejected = "session_rejected"

	// EventSessionEnded is logged on explicit logout.
	EventSessionEnded = "session_ended"

	// EventRateLimitExceeded is logged when a rate limit is exceeded.
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventToolCallDenied is logged when a JSON-RPC method is refused
	// for missing or invalid credentials.
	EventToolCallDenied = "tool_call_denied"
)
