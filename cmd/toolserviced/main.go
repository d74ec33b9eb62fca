// Command toolserviced runs the loopback-only tool service that review
// agents and the orchestrator call during negotiation to execute lint, test,
// and dependency-audit commands against the repository under review.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/reviewmesh/orchestrator/config"
	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/toolservice"
	"goa.design/clue/log"
)

func main() {
	var (
		addrF        = flag.String("addr", "localhost:8090", "address to bind the tool service to; loopback only")
		dbgF         = flag.Bool("debug", false, "log request detail")
		authDisabled = flag.Bool("auth-disabled", false, "skip bearer-token authorization entirely; local development only")
		permsF       = flag.String("token-permissions", "", `token->tool grants, e.g. "tok-a=lint,run_tests;tok-b=dependency_audit"`)
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

	host, _, err := net.SplitHostPort(*addrF)
	if ip := net.ParseIP(host); err != nil || (host != "localhost" && (ip == nil || !ip.IsLoopback())) {
		log.Fatal(ctx, fmt.Errorf("refusing to bind %q: the tool service binds to loopback addresses only", *addrF))
	}

	opts := []config.Option{config.WithTokenPermissions(parsePermissions(*permsF))}
	if *authDisabled {
		opts = append(opts, config.WithAuthDisabled())
	}
	cfg := config.Default(opts...)

	logger := telemetry.NewClueLogger()
	srv, err := toolservice.NewServer(cfg, toolservice.WithLogger(logger))
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("construct tool service: %w", err))
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	httpServer := &http.Server{Addr: *addrF, Handler: srv.Handler(), ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf(ctx, "tool service listening on %q", *addrF)
			errc <- httpServer.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down tool service")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shut down cleanly: %v", err)
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

// parsePermissions parses the -token-permissions flag's
// "token=tool,tool;token2=tool3" grammar into the map config.WithTokenPermissions
// expects.
func parsePermissions(raw string) map[string][]string {
	perms := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		token := strings.TrimSpace(parts[0])
		var tools []string
		for _, tool := range strings.Split(parts[1], ",") {
			tool = strings.TrimSpace(tool)
			if tool != "" {
				tools = append(tools, tool)
			}
		}
		if token != "" {
			perms[token] = tools
		}
	}
	return perms
}
