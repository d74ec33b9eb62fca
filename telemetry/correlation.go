package telemetry

import "github.com/google/uuid"

// CorrelationIDHeader is the HTTP header the orchestrator always sends, and
// which every downstream hop (agents, tool service) should echo into its own
// logs for cross-service tracing.
const CorrelationIDHeader = "X-Correlation-ID"

// NewCorrelationID generates a fresh correlation ID for one orchestrator run.
func NewCorrelationID() string {
	return uuid.New().String()
}
