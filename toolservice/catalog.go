package toolservice

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/reviewmesh/orchestrator/wire"
)

// toolOutputSchema is the output schema shared by every built-in tool: every
// tool's result requires ok, stdout, stderr.
var toolOutputSchema = json.RawMessage(`{
	"type": "object",
	"required": ["ok", "stdout", "stderr"],
	"properties": {
		"ok": {"type": "boolean"},
		"stdout": {"type": "string"},
		"stderr": {"type": "string"}
	}
}`)

// emptyArgsSchema permits an empty or absent args object.
var emptyArgsSchema = json.RawMessage(`{"type": "object"}`)

// Handler executes one tool call and produces its result. Handlers never
// return a transport error; failures are encoded as ok:false with stderr set.
type Handler func(args map[string]any) wire.ToolCallResponse

// builtin pairs a ToolDefinition with the Handler that executes it.
type builtin struct {
	def     wire.ToolDefinition
	handler Handler
}

// DefaultCatalog returns the built-in tool set this service exposes: lint,
// run_tests, and dependency_audit. Each shells out to a real command and
// reports its outcome via ToolCallResponse.
func DefaultCatalog() []builtin {
	return []builtin{
		{
			def: wire.ToolDefinition{
				Name:         "lint",
				Description:  "Runs the project's linter and reports its output.",
				InputSchema:  emptyArgsSchema,
				OutputSchema: toolOutputSchema,
			},
			handler: runCommand("golangci-lint", "run", "./..."),
		},
		{
			def: wire.ToolDefinition{
				Name:         "run_tests",
				Description:  "Runs the project's test suite and reports its output.",
				InputSchema:  emptyArgsSchema,
				OutputSchema: toolOutputSchema,
			},
			handler: runCommand("go", "test", "./..."),
		},
		{
			def: wire.ToolDefinition{
				Name:         "dependency_audit",
				Description:  "Audits third-party dependencies for known vulnerabilities.",
				InputSchema:  emptyArgsSchema,
				OutputSchema: toolOutputSchema,
			},
			handler: runCommand("govulncheck", "./..."),
		},
	}
}

// runCommand returns a Handler that runs name with args and reports its
// output. ok reflects the process exit status, not whether issues were
// found: a non-zero exit (or a command that cannot start) yields ok:false
// with stderr set, a handled failure rather than a transport error.
func runCommand(name string, args ...string) Handler {
	return func(_ map[string]any) wire.ToolCallResponse {
		cmd := exec.Command(name, args...)
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		if err != nil {
			if stderr.Len() == 0 {
				stderr.WriteString(err.Error())
			}
			return wire.ToolCallResponse{OK: false, Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return wire.ToolCallResponse{OK: true, Stdout: stdout.String(), Stderr: stderr.String()}
	}
}

// lookup finds a builtin by tool name.
func lookup(tools []builtin, name string) (builtin, bool) {
	for _, b := range tools {
		if b.def.Name == name {
			return b, true
		}
	}
	return builtin{}, false
}

// definitions extracts just the ToolDefinitions, for the catalog response.
func definitions(tools []builtin) []wire.ToolDefinition {
	defs := make([]wire.ToolDefinition, 0, len(tools))
	for _, b := range tools {
		defs = append(defs, b.def)
	}
	return defs
}

// validateCatalog checks every built-in tool definition against the wire
// contract. Called once at server construction so a malformed catalog fails
// fast.
func validateCatalog(tools []builtin) error {
	for _, b := range tools {
		if err := wire.ValidateToolDefinition(b.def); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}
