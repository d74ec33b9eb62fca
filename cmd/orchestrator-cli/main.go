// Command orchestrator-cli runs one federated review: it discovers agents at
// the given base URLs, sends each one the diff under review, negotiates any
// additional context they request, merges the resulting findings into a
// single deterministic report, and prints it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reviewmesh/orchestrator/breaker"
	"github.com/reviewmesh/orchestrator/config"
	"github.com/reviewmesh/orchestrator/discovery"
	"github.com/reviewmesh/orchestrator/fanout"
	"github.com/reviewmesh/orchestrator/invoker"
	"github.com/reviewmesh/orchestrator/merge"
	"github.com/reviewmesh/orchestrator/report"
	"github.com/reviewmesh/orchestrator/telemetry"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"goa.design/clue/log"
)

func main() {
	var (
		agentsF    = flag.String("agents", "", "comma-separated list of agent base URLs to discover")
		diffFileF  = flag.String("diff", "-", "path to the diff file to review, or - for stdin")
		mcpURLF    = flag.String("mcp-url", "http://localhost:8090", "base URL of the tool service agents may call during negotiation")
		tokenF     = flag.String("token", "", "bearer token presented to agents and the tool service that require one")
		timeoutF   = flag.Duration("run-timeout", 60*time.Second, "overall wall-clock deadline for the whole run")
		dbgF       = flag.Bool("debug", false, "log request and response detail")
		protoF     = flag.String("protocol-version", config.DefaultSupportedProtocol, "protocol version this orchestrator declares support for")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	urls := splitAgents(*agentsF)
	if len(urls) == 0 {
		log.Fatal(ctx, fmt.Errorf("no agents specified, pass -agents with a comma-separated list of base URLs"))
	}

	diff, err := readDiff(*diffFileF)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("read diff: %w", err))
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, *timeoutF)
	defer cancel()
	go func() {
		<-c
		log.Printf(ctx, "interrupted, cancelling run")
		cancel()
	}()

	cfg := config.Default(
		config.WithSupportedProtocolVersion(*protoF),
		config.WithAgentToken(*tokenF),
	)

	tracerProvider := sdktrace.NewTracerProvider()
	defer func() { _ = tracerProvider.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tracerProvider)

	meterProvider := sdkmetric.NewMeterProvider()
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	otel.SetMeterProvider(meterProvider)

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewOTELTracer()
	metricsRecorder := telemetry.NewOTELMetrics()

	disco := discovery.New(cfg.SupportedProtocolVersion, discovery.WithLogger(logger))
	agents := disco.Discover(ctx, urls)
	if len(agents) == 0 {
		log.Fatal(ctx, fmt.Errorf("no compatible agents discovered among %v", urls))
	}
	log.Printf(ctx, "discovered %d of %d candidate agents", len(agents), len(urls))

	breakers := breaker.New(breaker.WithFailureThreshold(cfg.FailureThreshold), breaker.WithCooldown(cfg.Cooldown))
	inv := invoker.New(cfg, breakers, invoker.WithLogger(logger), invoker.WithTracer(tracer), invoker.WithMetrics(metricsRecorder))

	run := fanout.Run(ctx, inv, fanout.Request{
		Agents:     agents,
		Diff:       diff,
		MCPURL:     *mcpURLF,
		AgentToken: *tokenF,
	})

	for _, r := range run.Invocations {
		if r.Error != "" {
			log.Printf(ctx, "agent %q skill %q failed: %s", r.AgentName, r.SkillID, r.Error)
		}
	}

	merged := merge.Merge(run.Invocations)
	fmt.Println(report.Render(merged, nil))
}

// splitAgents parses a comma-separated list of base URLs, trimming
// whitespace and dropping empty entries.
func splitAgents(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// readDiff reads the diff to review from path, or from stdin when path is "-".
func readDiff(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
