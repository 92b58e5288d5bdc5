package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kestrelhq/dirgate/directory"
	"github.com/kestrelhq/dirgate/instrumentation"
	"github.com/kestrelhq/dirgate/security"
)

// JSON-RPC error codes used on the tool surface.
const (
	// codeParseError is the JSON-RPC 2.0 parse error.
	codeParseError = -32700

	// codeAuthRequired is the reserved implementation-defined code for
	// authentication failures.
	codeAuthRequired = -32001
)

// maxRequestBody bounds how much of a request body is read when peeking
// the JSON-RPC envelope.
const maxRequestBody = 1 << 20

// Config holds tool-surface settings.
type Config struct {
	// Name identifies the server in the MCP handshake and GET metadata.
	Name string

	// Version is the advertised server version.
	Version string

	// Policy maps JSON-RPC methods to access levels.
	// Defaults to DefaultPolicy().
	Policy MethodAuthPolicy
}

// Server is the HTTP handler for the JSON-RPC tool endpoint. It peeks each
// request's envelope, applies the method policy and authenticator, and
// delegates allowed requests to the embedded MCP server.
type Server struct {
	config        Config
	authenticator *Authenticator
	streamable    *mcpserver.StreamableHTTPServer

	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	logger          *slog.Logger
}

// New creates the tool surface over the given directory store.
func New(store directory.Store, authenticator *Authenticator, config Config, auditor *security.Auditor, inst *instrumentation.Instrumentation, logger *slog.Logger) *Server {
	if config.Name == "" {
		config.Name = "dirgate"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Policy == nil {
		config.Policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	mcp := mcpserver.NewMCPServer(
		config.Name,
		config.Version,
		mcpserver.WithToolCapabilities(false),
	)
	registerTools(mcp, store)

	// The authenticated identity travels request context -> tool context.
	streamable := mcpserver.NewStreamableHTTPServer(
		mcp,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if identity, ok := IdentityFromContext(r.Context()); ok {
				return ContextWithIdentity(ctx, identity)
			}
			return ctx
		}),
	)

	return &Server{
		config:          config,
		authenticator:   authenticator,
		streamable:      streamable,
		auditor:         auditor,
		instrumentation: inst,
		logger:          logger,
	}
}

// ServeHTTP implements http.Handler for the tool endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.serveMetadata(w, r)
	case http.MethodPost:
		s.serveRPC(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// rpcEnvelope is the peeked slice of a JSON-RPC request. ID is kept raw so
// it round-trips unchanged into error responses.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeRPCError(w, http.StatusBadRequest, nil, codeParseError, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Method == "" {
		s.writeRPCError(w, http.StatusBadRequest, envelope.ID, codeParseError, "Parse error", nil)
		return
	}

	authenticated := false
	if !s.config.Policy.IsPublic(envelope.Method) {
		identity, err := s.authenticator.Authenticate(r)
		if err != nil {
			s.denyRequest(w, r, envelope)
			return
		}
		authenticated = true
		r = r.WithContext(ContextWithIdentity(r.Context(), identity))
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordRPCRequest(r.Context(), envelope.Method, authenticated)
	}

	s.streamable.ServeHTTP(w, r)
}

func (s *Server) denyRequest(w http.ResponseWriter, r *http.Request, envelope rpcEnvelope) {
	clientIP := security.GetClientIP(r, s.authenticator.config.TrustProxy)
	s.logger.Debug("Unauthenticated tool request denied",
		"method", envelope.Method,
		"ip", clientIP)
	s.auditor.LogEvent(security.Event{
		Type:      security.EventToolCallDenied,
		IPAddress: clientIP,
		Details:   map[string]any{"method": envelope.Method},
	})
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordToolCallDenied(r.Context(), envelope.Method)
	}

	// Uniform failure regardless of which mechanism was attempted.
	w.Header().Set("WWW-Authenticate", "Bearer")
	s.writeRPCError(w, http.StatusUnauthorized, envelope.ID, codeAuthRequired,
		"authentication required",
		map[string]any{"challenge": "Bearer"})
}

// serveMetadata answers unauthenticated GETs with server and tool metadata
// instead of opening a stream.
func (s *Server) serveMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":    s.config.Name,
		"version": s.config.Version,
		"tools":   toolNames(),
	})
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcError        `json:"error"`
}

func (s *Server) writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data any) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: rpcError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
