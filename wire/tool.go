package wire

import (
	"encoding/json"
	"fmt"
)

// ToolDefinition describes one tool the tool service exposes. Every tool's
// output schema must require "ok", "stdout", and "stderr".
type ToolDefinition struct {
	// Name is the tool's unique identifier (e.g. "lint").
	Name string `json:"name"`
	// Description is a human-readable description of what the tool does.
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON schema the tool's call arguments must satisfy.
	InputSchema json.RawMessage `json:"input_schema"`
	// OutputSchema is the JSON schema the tool's call result must satisfy.
	OutputSchema json.RawMessage `json:"output_schema"`
}

// ToolCatalog is the response to GET /tools.
type ToolCatalog struct {
	// Tools lists every tool definition the service exposes.
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallRequest is the request body for POST /call.
type ToolCallRequest struct {
	// Tool is the name of the tool to invoke.
	Tool string `json:"tool"`
	// Args are the tool-specific call arguments.
	Args map[string]any `json:"args,omitempty"`
}

// ToolCallResponse is the result of a tool call. OK=false signals a
// handled-but-failed call, distinct from a transport error.
type ToolCallResponse struct {
	// OK reports whether the tool's own execution succeeded.
	OK bool `json:"ok"`
	// Stdout is the tool's standard output.
	Stdout string `json:"stdout"`
	// Stderr is the tool's standard error, including failure diagnostics.
	Stderr string `json:"stderr"`
	// ErrorCode is set on transport/authorization failures (e.g. ErrUnauthorized,
	// ErrForbidden) and omitted on ordinary tool execution outcomes.
	ErrorCode int `json:"error_code,omitempty"`
}

// toolOutputSchemaRequired lists the fields every tool's OutputSchema must
// declare as required, per this spec's contract.
var toolOutputSchemaRequired = []string{"ok", "stdout", "stderr"}

// ValidateToolDefinition checks that a ToolDefinition is well formed: a
// non-empty name and an output schema requiring ok/stdout/stderr.
func ValidateToolDefinition(t ToolDefinition) error {
	if t.Name == "" {
		return fmt.Errorf("tool definition: name is required")
	}
	if len(t.InputSchema) == 0 {
		return fmt.Errorf("tool %q: input schema is required", t.Name)
	}
	if !json.Valid(t.InputSchema) {
		return fmt.Errorf("tool %q: input schema is not valid JSON", t.Name)
	}
	if err := schemaRequires(t.OutputSchema, toolOutputSchemaRequired...); err != nil {
		return fmt.Errorf("tool %q: output schema: %w", t.Name, err)
	}
	return nil
}
