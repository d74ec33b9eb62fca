// Package invoker drives one agent's negotiation with the orchestrator: it
// sends the JSON-RPC invoke request, retries transient failures, and
// satisfies NeedMoreInfo requests by calling the tool service, bounded by a
// small number of negotiation rounds.
package invoker

import "github.com/reviewmesh/orchestrator/wire"

// InvokeResult is the outcome of one invokeAgent call — success or failure,
// always populated, never a thrown error. AgentName and SkillID identify
// which (agent, skill) pair this result belongs to within a fan-out.
type InvokeResult struct {
	// AgentName is the human-readable name of the agent invoked.
	AgentName string `json:"agent_name"`
	// SkillID is the skill that was invoked.
	SkillID string `json:"skill_id"`
	// Findings are the agent's review findings. Empty on failure.
	Findings []wire.Finding `json:"findings,omitempty"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Retried reports whether at least one retry attempt was made.
	Retried bool `json:"retried"`
	// DurationMs is the wall-clock duration of the call, in whole
	// milliseconds.
	DurationMs int64 `json:"duration_ms"`
}
