package invoker

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reviewmesh/orchestrator/breaker"
	"github.com/reviewmesh/orchestrator/config"
	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/toolservice"
	"github.com/reviewmesh/orchestrator/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeInvokeRequest(t *testing.T, r *http.Request) wire.InvokeParams {
	t.Helper()
	var req wire.RPCRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	var params wire.InvokeParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	return params
}

func writeResult(t *testing.T, w http.ResponseWriter, id string, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	resp := wire.RPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestInvokeAgentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, "corr-1", wire.AgentResponse{
			Findings: []wire.Finding{{Severity: wire.SeverityHigh, Title: "API Key", Evidence: "e", Recommendation: "r"}},
		})
	}))
	defer srv.Close()

	inv := New(config.Default(), breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "security-agent", Endpoint: srv.URL}, "review.security", "+diff", "http://mcp", "corr-1", nil)

	assert.Empty(t, result.Error)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "API Key", result.Findings[0].Title)
	assert.False(t, result.Retried)
}

func TestInvokeAgentHTTPErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := New(config.Default(), breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: srv.URL}, "skill", "diff", "mcp", "corr", nil)

	assert.Equal(t, "HTTP 500", result.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvokeAgentJSONRPCErrorNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := wire.RPCResponse{JSONRPC: "2.0", ID: "corr", Error: &wire.RPCError{Code: wire.ErrInvalidParams, Message: "Invalid params"}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	inv := New(config.Default(), breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: srv.URL}, "skill", "diff", "mcp", "corr", nil)
	assert.Equal(t, "Invalid params", result.Error)
}

func TestInvokeAgentCircuitBreakerOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("agent should not be called while circuit is open")
	}))
	defer srv.Close()

	breakers := breaker.New(breaker.WithFailureThreshold(1))
	breakers.RecordFailure(srv.URL)

	inv := New(config.Default(), breakers)
	result := inv.InvokeAgent(t.Context(), Agent{Name: "security-agent", Endpoint: srv.URL}, "skill", "diff", "mcp", "corr", nil)

	assert.Equal(t, "Circuit breaker open for security-agent", result.Error)
}

func TestInvokeAgentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeResult(t, w, "corr", wire.AgentResponse{Findings: []wire.Finding{}})
	}))
	defer srv.Close()

	cfg := config.Default(config.WithAgentTimeout(5*time.Millisecond), config.WithMaxRetries(0))
	inv := New(cfg, breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: srv.URL}, "skill", "diff", "mcp", "corr", nil)

	assert.Equal(t, "Timeout after 5ms", result.Error)
	assert.False(t, result.Retried)
}

// TestInvokeAgentTimeoutIsRetriedBeforeReported reproduces spec §7's
// "Timeout — retryable; reported after retries exhausted" rule: a timeout
// must consume MAX_RETRIES attempts before the call is reported as failed,
// and the final result must carry retried=true.
func TestInvokeAgentTimeoutIsRetriedBeforeReported(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		writeResult(t, w, "corr", wire.AgentResponse{Findings: []wire.Finding{}})
	}))
	defer srv.Close()

	cfg := config.Default(config.WithAgentTimeout(5*time.Millisecond), config.WithMaxRetries(1))
	inv := New(cfg, breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: srv.URL}, "skill", "diff", "mcp", "corr", nil)

	assert.Equal(t, "Timeout after 5ms", result.Error)
	assert.True(t, result.Retried)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestInvokeAgentNegotiation reproduces spec scenario 7: a mock agent that
// asks for lint output on the first call and returns a finding once it sees
// that context on the second.
func TestInvokeAgentNegotiation(t *testing.T) {
	var calls int32
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		params := decodeInvokeRequest(t, r)
		if n == 1 {
			assert.Empty(t, params.Input.AdditionalContext)
			writeResult(t, w, "corr", wire.AgentResponse{
				NeedMoreInfo:  true,
				RequestType:   wire.RequestCustom,
				RequestParams: wire.RequestParams{Tool: "lint"},
			})
			return
		}
		require.Equal(t, "no issues found", params.Input.AdditionalContext["custom"])
		writeResult(t, w, "corr", wire.AgentResponse{
			Findings: []wire.Finding{{Severity: wire.SeverityLow, Title: "Found with context", Evidence: "e", Recommendation: "r"}},
		})
	}))
	defer agentSrv.Close()

	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.ToolCallResponse{OK: true, Stdout: "no issues found"})
	}))
	defer toolSrv.Close()

	inv := New(config.Default(), breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "security-agent", Endpoint: agentSrv.URL}, "review.security", "diff", toolSrv.URL, "corr", nil)

	require.Empty(t, result.Error)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "Found with context", result.Findings[0].Title)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestInvokeAgentNegotiationExhausted reproduces the indefinite-negotiation
// half of spec scenario 7: an agent that always asks for more context never
// gets a third call, and the error names the round bound.
func TestInvokeAgentNegotiationExhausted(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, "corr", wire.AgentResponse{
			NeedMoreInfo:  true,
			RequestType:   wire.RequestCustom,
			RequestParams: wire.RequestParams{Tool: "lint"},
		})
	}))
	defer agentSrv.Close()

	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.ToolCallResponse{OK: true, Stdout: "stub"})
	}))
	defer toolSrv.Close()

	cfg := config.Default(config.WithMaxNegotiationRounds(2))
	inv := New(cfg, breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: agentSrv.URL}, "skill", "diff", toolSrv.URL, "corr", nil)

	assert.Equal(t, "Max negotiation rounds (2) exceeded", result.Error)
}

func TestInvokeAgentToolCallFailureSurfacesStderr(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, "corr", wire.AgentResponse{
			NeedMoreInfo:  true,
			RequestType:   wire.RequestTestOutput,
			RequestParams: wire.RequestParams{Tool: "run_tests"},
		})
	}))
	defer agentSrv.Close()

	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.ToolCallResponse{OK: false, Stderr: "tests failed to compile"})
	}))
	defer toolSrv.Close()

	inv := New(config.Default(), breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: agentSrv.URL}, "skill", "diff", toolSrv.URL, "corr", nil)

	assert.Contains(t, result.Error, "Agent requested test_output via run_tests but tool call failed")
	assert.Contains(t, result.Error, "tests failed to compile")
}

func TestInvokeAgentMissingToolName(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, "corr", wire.AgentResponse{
			NeedMoreInfo: true,
			RequestType:  wire.RequestFileContents,
		})
	}))
	defer agentSrv.Close()

	inv := New(config.Default(), breaker.New())
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: agentSrv.URL}, "skill", "diff", "http://mcp", "corr", nil)

	assert.Equal(t, "Agent requested file_contents but tool call failed", result.Error)
}

// flakyTransport fails the first numFailures round trips with a retryable
// transport-level error, then delegates to the real transport.
type flakyTransport struct {
	numFailures int32
	attempts    int32
	underlying  http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.numFailures {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	return f.underlying.RoundTrip(r)
}

func TestInvokeAgentRetriesTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, "corr", wire.AgentResponse{Findings: []wire.Finding{}})
	}))
	defer srv.Close()

	transport := &flakyTransport{numFailures: 1, underlying: http.DefaultTransport}
	cfg := config.Default(config.WithMaxRetries(1))
	inv := New(cfg, breaker.New(), WithHTTPClient(&http.Client{Transport: transport}))
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: srv.URL}, "skill", "diff", "mcp", "corr", nil)

	assert.Empty(t, result.Error)
	assert.True(t, result.Retried)
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.attempts))
}

// TestInvokeAgentToolRetryPropagatesRetriedFlag reproduces the negotiation
// half of spec §7's retried propagation: a transient failure during the
// tool-service sub-call must still surface as retried=true on the final
// result, and its latency must be recorded into the run's tool histogram.
func TestInvokeAgentToolRetryPropagatesRetriedFlag(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, "corr", wire.AgentResponse{
			NeedMoreInfo:  true,
			RequestType:   wire.RequestCustom,
			RequestParams: wire.RequestParams{Tool: "lint"},
		})
	}))
	defer agentSrv.Close()

	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.ToolCallResponse{OK: true, Stdout: "stub"})
	}))
	defer toolSrv.Close()

	transport := &flakyTransport{numFailures: 1, underlying: http.DefaultTransport}
	cfg := config.Default(config.WithMaxNegotiationRounds(2), config.WithMaxRetries(1))
	inv := New(cfg, breaker.New(),
		WithToolClient(toolservice.NewClient(toolservice.WithHTTPClient(&http.Client{Transport: transport}))))

	metrics := telemetry.NewRunMetrics("corr")
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: agentSrv.URL}, "skill", "diff", toolSrv.URL, "corr", metrics)

	assert.Equal(t, "Max negotiation rounds (2) exceeded", result.Error)
	assert.True(t, result.Retried)
	// round 1's tool call fails once then succeeds (2 attempts); round 2's
	// tool call succeeds on its first attempt (1 attempt): 3 total.
	assert.Equal(t, int32(3), atomic.LoadInt32(&transport.attempts))

	report := metrics.Report()
	toolSnapshot, ok := report.Tools["lint"]
	require.True(t, ok)
	assert.Equal(t, 2, toolSnapshot.Count)
}

func TestInvokeAgentRetryExhaustedSurfacesLastError(t *testing.T) {
	transport := &flakyTransport{numFailures: 99, underlying: http.DefaultTransport}
	cfg := config.Default(config.WithMaxRetries(1))
	inv := New(cfg, breaker.New(), WithHTTPClient(&http.Client{Transport: transport}))
	result := inv.InvokeAgent(t.Context(), Agent{Name: "a", Endpoint: "http://unused"}, "skill", "diff", "mcp", "corr", nil)

	assert.Contains(t, result.Error, "connection refused")
	assert.True(t, result.Retried)
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.attempts))
}
