// Package toolservice implements the loopback-only HTTP service agents and
// the orchestrator call during negotiation to execute lint, test, and
// dependency-audit tools.
package toolservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/reviewmesh/orchestrator/config"
	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/wire"
)

// Server exposes GET /tools, POST /call, and GET /health. It binds only to
// loopback addresses; callers choose the bind address at construction.
type Server struct {
	cfg    *config.Config
	tools  []builtin
	logger telemetry.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server's logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTools overrides the built-in tool catalog. Intended for tests that
// need deterministic handlers instead of shelling out to real commands.
func WithTools(tools []builtin) Option {
	return func(s *Server) { s.tools = tools }
}

// NewServer constructs a Server from cfg's auth settings, defaulting to
// DefaultCatalog. Returns an error if the resulting catalog is malformed.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		tools:  DefaultCatalog(),
		logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := validateCatalog(s.tools); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the http.Handler implementing this service's three routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", s.handleCatalog)
	mux.HandleFunc("POST /call", s.handleCall)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.ToolCatalog{Tools: definitions(s.tools)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleCall implements the six-step authorization pipeline for POST /call:
// bearer-token extraction, token lookup, body/schema parse, permission check,
// tool-existence check, execution. Auth steps 1/2/4 are skipped entirely when
// s.cfg.AuthEnabled is false.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var token string
	if s.cfg.AuthEnabled {
		var err *wire.RPCError
		token, err = extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			s.logger.Warn(ctx, "tool call rejected: missing or malformed bearer token")
			writeJSON(w, http.StatusUnauthorized, wire.ToolCallResponse{
				OK: false, Stderr: err.Message, ErrorCode: err.Code,
			})
			return
		}
		if !s.cfg.KnownToken(token) {
			s.logger.Warn(ctx, "tool call rejected: invalid token")
			writeJSON(w, http.StatusUnauthorized, wire.ToolCallResponse{
				OK: false, Stderr: "Invalid token", ErrorCode: wire.ErrUnauthorized,
			})
			return
		}
	}

	var req wire.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ToolCallResponse{
			OK: false, Stderr: fmt.Sprintf("malformed request body: %v", err),
		})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, wire.ToolCallResponse{
			OK: false, Stderr: "missing required field: tool",
		})
		return
	}

	if s.cfg.AuthEnabled && !s.cfg.Permits(token, req.Tool) {
		s.logger.Warn(ctx, "tool call rejected: permission denied", "tool", req.Tool)
		writeJSON(w, http.StatusForbidden, wire.ToolCallResponse{
			OK: false, Stderr: fmt.Sprintf("token lacks permission for tool %q", req.Tool), ErrorCode: wire.ErrForbidden,
		})
		return
	}

	b, ok := lookup(s.tools, req.Tool)
	if !ok {
		writeJSON(w, http.StatusBadRequest, wire.ToolCallResponse{
			OK: false, Stderr: fmt.Sprintf("Unknown tool %q", req.Tool),
		})
		return
	}

	resp := b.handler(req.Args)
	writeJSON(w, http.StatusOK, resp)
}

// extractBearerToken parses an "Authorization: Bearer <token>" header value,
// matching the scheme case-insensitively.
func extractBearerToken(header string) (string, *wire.RPCError) {
	const prefix = "bearer "
	if header == "" || len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", &wire.RPCError{Code: wire.ErrUnauthorized, Message: "Missing or malformed Authorization header"}
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", &wire.RPCError{Code: wire.ErrUnauthorized, Message: "Missing or malformed Authorization header"}
	}
	return token, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
