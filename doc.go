// Package dirgate implements an OAuth 2.1 authorization gateway in front of
// an MCP-style directory tool server.
//
// The gateway does not issue tokens of its own. It proxies the
// authorization-code flow to a single upstream OIDC provider, relays the
// upstream access token to API clients, and issues an encrypted session
// cookie for browser logins. The JSON-RPC tool surface accepts either
// credential.
//
// The root package is the HTTP layer: Handler adapts requests onto the flow
// engine in the server package, the session manager, and the tool surface in
// the mcpserver package.
package dirgate
