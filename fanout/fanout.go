// Package fanout drives one review run across every discovered agent and
// every skill it advertises, with no admission control: every (agent, skill)
// pair gets its own goroutine and all of them run concurrently.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/reviewmesh/orchestrator/invoker"
	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/wire"
)

// Request is everything one fan-out run needs: the set of agents to call,
// the diff under review, and the tool service they may call during
// negotiation.
type Request struct {
	Agents        []wire.DiscoveredAgent
	Diff          string
	MCPURL        string
	CorrelationID string
	// AgentToken is the bearer token presented to every agent whose card
	// declares AuthBearer. Agents that declare AuthNone never receive it.
	AgentToken string
}

// Result is the outcome of one fan-out run: every per-(agent, skill)
// invocation result, plus the run's latency metrics.
type Result struct {
	Invocations   []invoker.InvokeResult
	Metrics       *telemetry.RunMetrics
	CorrelationID string
}

// task pairs one discovered agent with one of its advertised skills, the
// unit of work this package schedules.
type task struct {
	agent invoker.Agent
	skill string
}

// Run invokes every skill on every agent in req.Agents concurrently and
// waits for all of them to finish, then returns their results together with
// the run's aggregate metrics. A single slow or unreachable agent delays
// only its own task's result, never the others'.
func Run(ctx context.Context, inv *invoker.Invoker, req Request) Result {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = telemetry.NewCorrelationID()
	}
	metrics := telemetry.NewRunMetrics(correlationID)

	var tasks []task
	for _, a := range req.Agents {
		agent := invoker.Agent{Name: a.Card.Name, Endpoint: a.Card.Endpoint}
		if a.Card.Auth.Type == wire.AuthBearer {
			agent.Token = req.AgentToken
		}
		for _, sk := range a.Card.Skills {
			tasks = append(tasks, task{agent: agent, skill: sk.ID})
		}
	}

	results := make([]invoker.InvokeResult, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, tk := range tasks {
		go func(i int, tk task) {
			defer wg.Done()
			results[i] = inv.InvokeAgent(ctx, tk.agent, tk.skill, req.Diff, req.MCPURL, correlationID, metrics)
		}(i, tk)
	}
	wg.Wait()
	metrics.Finish()

	return Result{
		Invocations:   results,
		Metrics:       metrics,
		CorrelationID: correlationID,
	}
}

// RunWithDeadline is Run bounded by an overall wall-clock deadline applied on
// top of, not instead of, each invocation's own per-call timeouts.
func RunWithDeadline(ctx context.Context, inv *invoker.Invoker, req Request, deadline time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return Run(ctx, inv, req)
}
