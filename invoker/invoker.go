package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewmesh/orchestrator/breaker"
	"github.com/reviewmesh/orchestrator/config"
	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/toolservice"
	"github.com/reviewmesh/orchestrator/wire"
)

// Agent is the minimal description of a discovered agent an Invoker can
// address: where to send the invoke request, and which token to present.
type Agent struct {
	// Name is the agent's human-readable name, used in error messages and
	// per-agent metrics.
	Name string
	// Endpoint is the absolute URL accepting JSON-RPC invoke requests. Also
	// the circuit breaker's key.
	Endpoint string
	// Token is the bearer token presented to this agent, if any.
	Token string
}

// negotiationState is the explicit state machine driving one invokeAgent
// call's negotiation rounds, replacing the nested-loop-with-break control
// flow a naive port would produce.
type negotiationState string

const (
	awaitingRoundResult negotiationState = "AWAITING_ROUND_RESULT"
	fetchingContext     negotiationState = "FETCHING_CONTEXT"
	done                negotiationState = "DONE"
)

// Invoker drives invokeAgent calls: one JSON-RPC send per negotiation round,
// bounded retries per round, circuit-breaker gating, and tool-service
// sub-invocation when an agent asks for more context.
type Invoker struct {
	cfg        *config.Config
	breakers   *breaker.Table
	http       *http.Client
	toolClient *toolservice.Client
	logger     telemetry.Logger
	tracer     telemetry.Tracer
	metrics    telemetry.Metrics
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithHTTPClient overrides the underlying *http.Client used for agent calls.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) { i.http = c }
}

// WithToolClient overrides the tool-service client used for negotiation
// sub-calls.
func WithToolClient(c *toolservice.Client) Option {
	return func(i *Invoker) { i.toolClient = c }
}

// WithLogger overrides the invoker's logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// WithTracer overrides the invoker's tracer; defaults to a no-op tracer.
func WithTracer(tr telemetry.Tracer) Option {
	return func(i *Invoker) { i.tracer = tr }
}

// WithMetrics overrides the invoker's counter/timer/gauge recorder; defaults
// to a no-op recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(i *Invoker) { i.metrics = m }
}

// New constructs an Invoker sharing the given circuit-breaker table (the
// table must be shared across all concurrent invokers in a process, per the
// breaker's process-wide contract).
func New(cfg *config.Config, breakers *breaker.Table, opts ...Option) *Invoker {
	inv := &Invoker{
		cfg:        cfg,
		breakers:   breakers,
		http:       &http.Client{},
		toolClient: toolservice.NewClient(),
		logger:     telemetry.NewNoopLogger(),
		tracer:     telemetry.NewNoopTracer(),
		metrics:    telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv
}

// InvokeAgent runs the full negotiation with one agent for one skill,
// against one diff, accumulating tool-provided context across rounds. It
// never panics and never returns an error from this function itself — every
// outcome, success or failure, is encoded in the returned InvokeResult.
func (inv *Invoker) InvokeAgent(ctx context.Context, agent Agent, skillID, diff, mcpURL, correlationID string, metrics *telemetry.RunMetrics) InvokeResult {
	start := time.Now()
	ctx, span := inv.tracer.Start(ctx, "invoker.invoke_agent")
	defer span.End()

	additionalContext := make(map[string]any)
	state := awaitingRoundResult
	defer func() { span.AddEvent("invoker.negotiation_state", "state", string(state)) }()
	retriedAny := false

	// One loop iteration is one negotiation round: a single invoke send in
	// state AWAITING_ROUND_RESULT, followed in place by a tool fetch in state
	// FETCHING_CONTEXT if the agent asked for more. The round only advances
	// once both have completed, so MAX_NEGOTIATION_ROUNDS bounds the number
	// of agent sends, not the number of state transitions.
	for round := 0; round < inv.cfg.MaxNegotiationRounds; round++ {
		state = awaitingRoundResult
		resp, roundRetried, circuitOpen, err := inv.sendRoundWithRetries(ctx, agent, skillID, diff, mcpURL, correlationID, additionalContext)
		retriedAny = retriedAny || roundRetried
		if err != nil {
			tags := []string{"agent", agent.Name, "skill", skillID}
			inv.metrics.IncCounter("invoker.agent.failure", 1, tags...)
			if circuitOpen {
				return inv.failWithoutBreaker(agent, skillID, start, retriedAny, err.Error())
			}
			return inv.fail(agent, skillID, start, retriedAny, err.Error())
		}

		if !resp.NeedMoreInfo {
			state = done
			inv.breakers.RecordSuccess(agent.Endpoint)
			elapsed := time.Since(start)
			duration := elapsed.Milliseconds()
			if metrics != nil {
				metrics.RecordAgentLatency(agent.Name, elapsed)
			}
			tags := []string{"agent", agent.Name, "skill", skillID}
			inv.metrics.RecordTimer("invoker.agent.latency", elapsed, tags...)
			inv.metrics.IncCounter("invoker.agent.success", 1, tags...)
			return InvokeResult{
				AgentName:  agent.Name,
				SkillID:    skillID,
				Findings:   resp.Findings,
				Retried:    retriedAny,
				DurationMs: duration,
			}
		}

		state = fetchingContext
		tool := resp.RequestParams.Tool
		if tool == "" {
			return inv.fail(agent, skillID, start, retriedAny,
				fmt.Sprintf("Agent requested %s but tool call failed", resp.RequestType))
		}

		toolStart := time.Now()
		toolResp, toolRetried, toolErr := inv.callToolWithRetries(ctx, mcpURL, tool, resp.RequestParams.Args, agent.Token, correlationID)
		toolElapsed := time.Since(toolStart)
		retriedAny = retriedAny || toolRetried
		if metrics != nil {
			metrics.RecordToolLatency(tool, toolElapsed)
		}
		inv.metrics.RecordTimer("invoker.tool.latency", toolElapsed, "tool", tool)
		if toolErr != nil {
			return inv.failWithoutBreaker(agent, skillID, start, retriedAny, fmt.Sprintf(
				"Agent requested %s via %s but tool call failed: %s", resp.RequestType, tool, toolErr.Error()))
		}
		if !toolResp.OK {
			msg := fmt.Sprintf("Agent requested %s via %s but tool call failed", resp.RequestType, tool)
			if toolResp.Stderr != "" {
				msg += ": " + toolResp.Stderr
			}
			inv.breakers.RecordSuccess(agent.Endpoint)
			return inv.failWithoutBreaker(agent, skillID, start, retriedAny, msg)
		}

		additionalContext[string(resp.RequestType)] = toolResp.Stdout
		inv.breakers.RecordSuccess(agent.Endpoint)
		// state returns to AWAITING_ROUND_RESULT at the top of the next
		// iteration; the round counter advances to the next send.
	}

	state = done
	inv.breakers.RecordFailure(agent.Endpoint)
	return inv.failWithoutBreaker(agent, skillID, start, retriedAny,
		fmt.Sprintf("Max negotiation rounds (%d) exceeded", inv.cfg.MaxNegotiationRounds))
}

// fail records a circuit failure and builds a failed InvokeResult. Used for
// the failure paths that count against the agent's breaker: response-level
// errors, retry exhaustion, and a negotiation request that names no tool.
func (inv *Invoker) fail(agent Agent, skillID string, start time.Time, retried bool, message string) InvokeResult {
	inv.breakers.RecordFailure(agent.Endpoint)
	return inv.failWithoutBreaker(agent, skillID, start, retried, message)
}

// failWithoutBreaker builds a failed InvokeResult without touching the
// circuit breaker, for paths that have already recorded their own outcome.
func (inv *Invoker) failWithoutBreaker(agent Agent, skillID string, start time.Time, retried bool, message string) InvokeResult {
	return InvokeResult{
		AgentName:  agent.Name,
		SkillID:    skillID,
		Error:      message,
		Retried:    retried,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// sendRoundWithRetries sends exactly one negotiation round's invoke request,
// retrying transient transport failures up to 1+MaxRetries attempts. Circuit
// breaker gating happens before every attempt, and response-level errors
// (non-2xx, JSON-RPC error object) are never retried.
func (inv *Invoker) sendRoundWithRetries(ctx context.Context, agent Agent, skillID, diff, mcpURL, correlationID string, additionalContext map[string]any) (resp *wire.AgentResponse, retried bool, circuitOpen bool, err error) {
	var lastErr error
	maxAttempts := 1 + inv.cfg.MaxRetries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !inv.breakers.IsAvailable(agent.Endpoint) {
			return nil, retried, true, fmt.Errorf("Circuit breaker open for %s", agent.Name) //nolint:staticcheck // user-facing message, not a Go error-style string
		}

		resp, transportLevel, err := inv.sendOnce(ctx, agent, skillID, diff, mcpURL, correlationID, additionalContext)
		if err == nil {
			return resp, retried, false, nil
		}

		if !transportLevel {
			// Response-level error: not retryable, and not a circuit-open
			// short-circuit, so the caller records this as a breaker failure.
			return nil, retried, false, err
		}

		lastErr = err
		if attempt < maxAttempts-1 && isRetryable(err) {
			retried = true
			inv.logger.Warn(ctx, "retrying agent call", "agent", agent.Name, "attempt", attempt+1, "error", err.Error())
			continue
		}
		if isTimeout(err) {
			return nil, retried, false, fmt.Errorf("Timeout after %dms", inv.cfg.AgentTimeout.Milliseconds()) //nolint:staticcheck
		}
		return nil, retried, false, lastErr
	}
	return nil, retried, false, lastErr
}

// sendOnce performs a single JSON-RPC invoke attempt. The bool return
// indicates whether err (if non-nil) is a transport-level failure eligible
// for retry classification, as opposed to a non-retryable response-level
// error (non-2xx HTTP, JSON-RPC error object) that the caller must surface
// immediately.
func (inv *Invoker) sendOnce(ctx context.Context, agent Agent, skillID, diff, mcpURL, correlationID string, additionalContext map[string]any) (resp *wire.AgentResponse, transportLevel bool, err error) {
	params := wire.InvokeParams{
		Skill: skillID,
		Input: wire.InvokeInput{
			Diff:              diff,
			MCPURL:            mcpURL,
			AdditionalContext: additionalContext,
		},
	}
	rpcReq, err := wire.NewRequest(correlationID, params)
	if err != nil {
		return nil, false, fmt.Errorf("build invoke request: %w", err)
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, false, fmt.Errorf("marshal invoke request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, inv.cfg.AgentTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(telemetry.CorrelationIDHeader, correlationID)
	if agent.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+agent.Token)
	}

	httpResp, err := inv.http.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("HTTP %d", httpResp.StatusCode)
	}

	var rpcResp wire.RPCResponse
	if decodeErr := json.NewDecoder(httpResp.Body).Decode(&rpcResp); decodeErr != nil {
		return nil, false, fmt.Errorf("decode invoke response: %w", decodeErr)
	}
	if rpcResp.Error != nil {
		return nil, false, fmt.Errorf("%s", rpcResp.Error.Message)
	}

	var agentResp wire.AgentResponse
	if err := json.Unmarshal(rpcResp.Result, &agentResp); err != nil {
		return nil, false, fmt.Errorf("decode agent response: %w", err)
	}
	return &agentResp, false, nil
}

// callToolWithRetries calls the tool service during negotiation, using the
// same retry classifier and a TOOL_TIMEOUT_MS deadline. Tool-call transport
// failures never touch the agent's circuit breaker.
func (inv *Invoker) callToolWithRetries(ctx context.Context, mcpURL, tool string, args map[string]any, token, correlationID string) (wire.ToolCallResponse, bool, error) {
	var lastErr error
	retried := false
	maxAttempts := 1 + inv.cfg.MaxRetries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := inv.toolClient.CallWithTimeout(ctx, inv.cfg.ToolTimeout, mcpURL, tool, args, token, correlationID)
		if err == nil {
			return resp, retried, nil
		}
		lastErr = err
		if attempt < maxAttempts-1 && isRetryable(err) {
			retried = true
			continue
		}
		break
	}
	return wire.ToolCallResponse{}, retried, lastErr
}
