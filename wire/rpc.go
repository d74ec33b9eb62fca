package wire

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC error codes observed on the wire, per the canonical mapping this
// spec relies on. Agents and the tool service emit these; the orchestrator
// only ever reads them.
const (
	// ErrParseError means the request body was not valid JSON.
	ErrParseError = -32700
	// ErrInvalidRequest means the envelope does not match the JSON-RPC schema.
	ErrInvalidRequest = -32600
	// ErrMethodNotFound means the method name was not "invoke".
	ErrMethodNotFound = -32601
	// ErrInvalidParams means the params schema mismatched, the skill id was
	// unknown, or a required input field was missing.
	ErrInvalidParams = -32602
	// ErrInternal means an error was raised inside skill execution.
	ErrInternal = -32603
	// ErrUnauthorized means the tool service received a missing/invalid bearer
	// token.
	ErrUnauthorized = -32001
	// ErrForbidden means the tool service's token lacks permission for the
	// requested tool.
	ErrForbidden = -32003
)

// RPCError is a JSON-RPC error object. It implements the error interface so
// it can be returned and matched with errors.As.
type RPCError struct {
	// Code is one of the canonical JSON-RPC error codes above.
	Code int `json:"code"`
	// Message is a short, human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// RPCRequest is a JSON-RPC 2.0 request envelope. Only the "invoke" method is
// defined by this spec.
type RPCRequest struct {
	// JSONRPC is the protocol marker, always "2.0".
	JSONRPC string `json:"jsonrpc"`
	// ID identifies the request for correlating the response.
	ID string `json:"id"`
	// Method is the RPC method name.
	Method string `json:"method"`
	// Params carries the method-specific parameters.
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope. Exactly one of Result or
// Error is set.
type RPCResponse struct {
	// JSONRPC is the protocol marker, always "2.0".
	JSONRPC string `json:"jsonrpc"`
	// ID echoes the request ID.
	ID string `json:"id"`
	// Result carries the method result on success.
	Result json.RawMessage `json:"result,omitempty"`
	// Error carries the failure description when the call could not be
	// completed.
	Error *RPCError `json:"error,omitempty"`
}

// NewRequest builds a well-formed "invoke" JSON-RPC request envelope.
func NewRequest(id string, params InvokeParams) (*RPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal invoke params: %w", err)
	}
	return &RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "invoke",
		Params:  raw,
	}, nil
}

// InvokeInput is the payload every skill invocation carries.
type InvokeInput struct {
	// Diff is the unified diff under review.
	Diff string `json:"diff"`
	// MCPURL is the base URL of the tool service the agent may call during
	// negotiation.
	MCPURL string `json:"mcp_url"`
	// AdditionalContext accumulates tool outputs gathered across negotiation
	// rounds, keyed by request_type.
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
}

// InvokeParams is the params object of an "invoke" JSON-RPC request.
type InvokeParams struct {
	// Skill is the skill identifier to invoke.
	Skill string `json:"skill"`
	// Input is the skill's invocation payload.
	Input InvokeInput `json:"input"`
}

// RequestType identifies the kind of additional context an agent is asking
// for during negotiation.
type RequestType string

// The canonical negotiation request types.
const (
	RequestFileContents RequestType = "file_contents"
	RequestTestOutput   RequestType = "test_output"
	RequestGitBlame     RequestType = "git_blame"
	RequestCustom       RequestType = "custom"
)

// RequestParams describes what additional context an agent needs.
type RequestParams struct {
	// Tool, if set, names the tool the orchestrator should call to satisfy
	// the request.
	Tool string `json:"tool,omitempty"`
	// Args are the arguments to pass to Tool.
	Args map[string]any `json:"args,omitempty"`
	// Description is an optional human-readable explanation.
	Description string `json:"description,omitempty"`
}

// AgentResponse is the tagged union an agent's "invoke" result decodes into:
// either a ReviewResult (findings) or a NeedMoreInfo negotiation request. The
// discriminator is the presence of "need_more_info": true.
type AgentResponse struct {
	// NeedMoreInfo is true when the agent is requesting additional context
	// instead of returning findings.
	NeedMoreInfo bool `json:"need_more_info,omitempty"`
	// RequestType identifies the kind of context requested. Only set when
	// NeedMoreInfo is true.
	RequestType RequestType `json:"request_type,omitempty"`
	// RequestParams carries the negotiation request details. Only set when
	// NeedMoreInfo is true.
	RequestParams RequestParams `json:"request_params,omitempty"`
	// Findings are the agent's review findings. Only set when NeedMoreInfo is
	// false.
	Findings []Finding `json:"findings,omitempty"`
}

// UnmarshalJSON decodes an AgentResponse, dispatching on the presence of
// "need_more_info": true per the wire contract.
func (r *AgentResponse) UnmarshalJSON(data []byte) error {
	var probe struct {
		NeedMoreInfo bool `json:"need_more_info"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}
	if probe.NeedMoreInfo {
		var neg struct {
			NeedMoreInfo  bool          `json:"need_more_info"`
			RequestType   RequestType   `json:"request_type"`
			RequestParams RequestParams `json:"request_params"`
		}
		if err := json.Unmarshal(data, &neg); err != nil {
			return fmt.Errorf("decode negotiation response: %w", err)
		}
		r.NeedMoreInfo = true
		r.RequestType = neg.RequestType
		r.RequestParams = neg.RequestParams
		r.Findings = nil
		return nil
	}
	var res struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decode review result: %w", err)
	}
	r.NeedMoreInfo = false
	r.Findings = res.Findings
	return nil
}

// MarshalJSON encodes an AgentResponse back to its wire shape, omitting
// negotiation fields for a ReviewResult and findings for a NeedMoreInfo.
func (r AgentResponse) MarshalJSON() ([]byte, error) {
	if r.NeedMoreInfo {
		return json.Marshal(struct {
			NeedMoreInfo  bool          `json:"need_more_info"`
			RequestType   RequestType   `json:"request_type"`
			RequestParams RequestParams `json:"request_params,omitempty"`
		}{true, r.RequestType, r.RequestParams})
	}
	findings := r.Findings
	if findings == nil {
		findings = []Finding{}
	}
	return json.Marshal(struct {
		Findings []Finding `json:"findings"`
	}{findings})
}
