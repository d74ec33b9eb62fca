// Package agentserver is a reference HTTP implementation of the agent side
// of the protocol: the discovery card, the health check, and the JSON-RPC
// "invoke" dispatcher. Production review agents are free to implement the
// same three endpoints in any language; this package exists so the
// orchestrator's test suite (and any Go-based agent) has a correct,
// ready-to-run counterpart.
package agentserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/reviewmesh/orchestrator/discovery"
	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/wire"
)

// SkillHandler executes one skill invocation and returns either a
// ReviewResult or a NeedMoreInfo AgentResponse. Returning a non-nil error
// maps to a JSON-RPC -32603 internal error.
type SkillHandler func(ctx *InvokeContext) (wire.AgentResponse, error)

// InvokeContext carries one invoke request's parsed input to the handler.
type InvokeContext struct {
	CorrelationID string
	Skill         string
	Input         wire.InvokeInput
}

// Server implements the three agent-facing HTTP endpoints this system's
// agents must expose.
type Server struct {
	card     wire.AgentCard
	handlers map[string]SkillHandler
	logger   telemetry.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server's logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer constructs a Server advertising card and dispatching each of
// card's skills to the matching entry in handlers, keyed by skill ID.
// NewServer panics if handlers is missing an entry for any skill in card, a
// programming error rather than a runtime condition.
func NewServer(card wire.AgentCard, handlers map[string]SkillHandler, opts ...Option) *Server {
	for _, sk := range card.Skills {
		if _, ok := handlers[sk.ID]; !ok {
			panic(fmt.Sprintf("agentserver: no handler registered for advertised skill %q", sk.ID))
		}
	}
	s := &Server{card: card, handlers: handlers, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the http.Handler implementing the well-known card,
// health, and RPC endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+discovery.WellKnownPath, s.handleCard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /rpc", s.handleRPC)
	return mux
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// skillByID finds the advertised skill with the given ID, the schema source
// for request-body validation.
func (s *Server) skillByID(id string) (wire.Skill, bool) {
	for _, sk := range s.card.Skills {
		if sk.ID == id {
			return sk, true
		}
	}
	return wire.Skill{}, false
}

// handleRPC dispatches a JSON-RPC "invoke" request to the matching skill
// handler, producing the exact malformed-input error matrix this system
// depends on: -32700 for invalid JSON, -32600 for a malformed envelope,
// -32601 for any method other than "invoke", -32602 for bad params or an
// unrecognized skill, -32603 for a handler error.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req wire.RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "", wire.ErrParseError, "Invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" || req.ID == "" {
		s.writeError(w, req.ID, wire.ErrInvalidRequest, "Malformed JSON-RPC envelope")
		return
	}
	if req.Method != "invoke" {
		s.writeError(w, req.ID, wire.ErrMethodNotFound, fmt.Sprintf("Unknown method %q", req.Method))
		return
	}

	if len(req.Params) == 0 {
		s.writeError(w, req.ID, wire.ErrInvalidParams, "Missing params")
		return
	}
	var probe struct {
		Skill string `json:"skill"`
	}
	if err := json.Unmarshal(req.Params, &probe); err != nil {
		s.writeError(w, req.ID, wire.ErrInvalidParams, "Malformed params")
		return
	}

	skill, ok := s.skillByID(probe.Skill)
	if !ok {
		s.writeError(w, req.ID, wire.ErrInvalidParams, fmt.Sprintf("Unknown skill %q", probe.Skill))
		return
	}
	handler, ok := s.handlers[skill.ID]
	if !ok {
		s.writeError(w, req.ID, wire.ErrInvalidParams, fmt.Sprintf("Unknown skill %q", probe.Skill))
		return
	}

	params, err := wire.ValidateInvokeParams(req.Params, skill)
	if err != nil {
		var rpcErr *wire.RPCError
		if errors.As(err, &rpcErr) {
			s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		} else {
			s.writeError(w, req.ID, wire.ErrInvalidParams, err.Error())
		}
		return
	}

	resp, err := handler(&InvokeContext{
		CorrelationID: r.Header.Get(telemetry.CorrelationIDHeader),
		Skill:         params.Skill,
		Input:         params.Input,
	})
	if err != nil {
		s.logger.Error(ctx, "skill handler failed", "skill", params.Skill, "error", err.Error())
		s.writeError(w, req.ID, wire.ErrInternal, err.Error())
		return
	}

	result, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, req.ID, wire.ErrInternal, "failed to encode response")
		return
	}
	writeJSON(w, http.StatusOK, wire.RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id string, code int, message string) {
	writeJSON(w, http.StatusOK, wire.RPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &wire.RPCError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
