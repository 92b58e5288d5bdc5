// Package instrumentation provides OpenTelemetry metrics and tracing for the
// gateway. It is optional: when disabled (or when the Instrumentation pointer
// is nil in the consuming layer) no-op providers are used and recording has
// zero overhead.
//
// Scopes follow the package layout: "http" for the handler layer, "server"
// for the flow engine, "security" for rate limiting and auditing, "rpc" for
// the tool surface, and "provider" for upstream identity-provider calls.
//
// The package wires instruments only; exporter selection is the embedding
// application's concern via the standard OTel SDK environment configuration.
package instrumentation
