package telemetry

import (
	"sync"
	"time"
)

// RunMetrics collects correlation id, total duration, and per-agent/per-tool
// latency histograms for one fan-out run. It is scoped to a single run and
// must not be shared across runs — each run owns exactly one collector.
type RunMetrics struct {
	// CorrelationID is the ID threaded through every hop of this run.
	CorrelationID string

	mu             sync.Mutex
	start          time.Time
	totalDuration  time.Duration
	agentLatencies map[string]*Histogram
	toolLatencies  map[string]*Histogram
}

// NewRunMetrics creates a collector for a new run, starting its wall-clock
// timer immediately.
func NewRunMetrics(correlationID string) *RunMetrics {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return &RunMetrics{
		CorrelationID:  correlationID,
		start:          time.Now(),
		agentLatencies: make(map[string]*Histogram),
		toolLatencies:  make(map[string]*Histogram),
	}
}

// RecordAgentLatency records a latency sample for the given agent name.
func (m *RunMetrics) RecordAgentLatency(agentName string, d time.Duration) {
	m.histogramFor(m.agentLatencies, agentName).Record(d)
}

// RecordToolLatency records a latency sample for the given tool name.
func (m *RunMetrics) RecordToolLatency(toolName string, d time.Duration) {
	m.histogramFor(m.toolLatencies, toolName).Record(d)
}

func (m *RunMetrics) histogramFor(set map[string]*Histogram, key string) *Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := set[key]
	if !ok {
		h = &Histogram{}
		set[key] = h
	}
	return h
}

// Finish stops the wall-clock timer. Call once the fan-out's await-all has
// returned.
func (m *RunMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalDuration = time.Since(m.start)
}

// Report is the serializable summary of a RunMetrics collector.
type Report struct {
	CorrelationID   string              `json:"correlation_id"`
	TotalDurationMs int64               `json:"total_duration_ms"`
	Agents          map[string]Snapshot `json:"agents,omitempty"`
	Tools           map[string]Snapshot `json:"tools,omitempty"`
}

// Report renders the current state of the collector. Safe to call before or
// after Finish.
func (m *RunMetrics) Report() Report {
	m.mu.Lock()
	total := m.totalDuration
	if total == 0 {
		total = time.Since(m.start)
	}
	agentNames := make([]string, 0, len(m.agentLatencies))
	for name := range m.agentLatencies {
		agentNames = append(agentNames, name)
	}
	toolNames := make([]string, 0, len(m.toolLatencies))
	for name := range m.toolLatencies {
		toolNames = append(toolNames, name)
	}
	m.mu.Unlock()

	agents := make(map[string]Snapshot, len(agentNames))
	for _, name := range agentNames {
		agents[name] = m.histogramFor(m.agentLatencies, name).Snapshot()
	}
	tools := make(map[string]Snapshot, len(toolNames))
	for _, name := range toolNames {
		tools[name] = m.histogramFor(m.toolLatencies, name).Snapshot()
	}

	return Report{
		CorrelationID:   m.CorrelationID,
		TotalDurationMs: total.Milliseconds(),
		Agents:          agents,
		Tools:           tools,
	}
}
