// Package discovery fetches and validates agent cards from a list of
// candidate base URLs, filtering to those compatible with this
// orchestrator's protocol version.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/wire"
)

// WellKnownPath is the path every agent must serve its AgentCard at.
const WellKnownPath = "/.well-known/agent-card.json"

// Discoverer fetches agent cards from candidate base URLs in parallel.
type Discoverer struct {
	http                     *http.Client
	logger                   telemetry.Logger
	supportedProtocolVersion string
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Discoverer) { d.http = c }
}

// WithLogger overrides the discoverer's logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Discoverer) { d.logger = l }
}

// New constructs a Discoverer that accepts agent cards whose major protocol
// version equals supportedProtocolVersion's major component.
func New(supportedProtocolVersion string, opts ...Option) *Discoverer {
	d := &Discoverer{
		http:                     &http.Client{},
		logger:                   telemetry.NewNoopLogger(),
		supportedProtocolVersion: supportedProtocolVersion,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// result pairs a fetch outcome with its originating index, so surviving
// entries can be returned in input order without a second sort.
type result struct {
	index int
	agent wire.DiscoveredAgent
	ok    bool
}

// Discover fetches the agent card from each of baseURLs in parallel and
// returns the accepted DiscoveredAgents, preserving the input order of
// surviving entries. A URL is dropped (with a logged warning) if the fetch
// fails, the body doesn't parse, required fields are missing, or the card's
// protocol major version does not match this orchestrator's.
func (d *Discoverer) Discover(ctx context.Context, baseURLs []string) []wire.DiscoveredAgent {
	results := make([]result, len(baseURLs))

	var wg sync.WaitGroup
	for i, base := range baseURLs {
		wg.Add(1)
		go func(i int, base string) {
			defer wg.Done()
			agent, err := d.fetchOne(ctx, base)
			if err != nil {
				d.logger.Warn(ctx, "dropping agent during discovery", "base_url", base, "reason", err.Error())
				return
			}
			results[i] = result{index: i, agent: agent, ok: true}
		}(i, base)
	}
	wg.Wait()

	out := make([]wire.DiscoveredAgent, 0, len(results))
	for _, r := range results {
		if r.ok {
			out = append(out, r.agent)
		}
	}
	return out
}

// fetchOne fetches and validates a single candidate's agent card.
func (d *Discoverer) fetchOne(ctx context.Context, base string) (wire.DiscoveredAgent, error) {
	cardURL := base + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return wire.DiscoveredAgent{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return wire.DiscoveredAgent{}, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return wire.DiscoveredAgent{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var card wire.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return wire.DiscoveredAgent{}, fmt.Errorf("parse card: %w", err)
	}

	servedHost := ""
	if u, err := url.Parse(cardURL); err == nil {
		servedHost = u.Host
	}
	if err := wire.ValidateAgentCard(card, servedHost); err != nil {
		return wire.DiscoveredAgent{}, fmt.Errorf("invalid card: %w", err)
	}

	if !isProtocolCompatible(card.ProtocolVersion, d.supportedProtocolVersion) {
		return wire.DiscoveredAgent{}, fmt.Errorf("incompatible protocol version %q", card.ProtocolVersion)
	}

	return wire.DiscoveredAgent{Card: card, BaseURL: base}, nil
}

// isProtocolCompatible reports whether agentVersion's major component equals
// supportedVersion's. Both must already be well-formed MAJOR.MINOR strings;
// a malformed agentVersion is treated as incompatible.
func isProtocolCompatible(agentVersion, supportedVersion string) bool {
	if err := wire.ValidateMajorMinor(agentVersion); err != nil {
		return false
	}
	return wire.MajorVersion(agentVersion) == wire.MajorVersion(supportedVersion)
}
