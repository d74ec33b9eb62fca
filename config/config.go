// Package config groups every orchestrator tunable into one immutable value,
// constructed once at process start and threaded in by the caller rather than
// read from the environment at call sites.
package config

import "time"

// Config is the process-wide, immutable configuration for the orchestrator,
// the invoker, and the tool service. Construct with Default and override with
// Option values; never mutate a Config after construction.
type Config struct {
	// AgentTimeout bounds a single agent RPC call.
	AgentTimeout time.Duration
	// ToolTimeout bounds a single tool-service call.
	ToolTimeout time.Duration
	// MaxRetries is the number of retry attempts permitted per negotiation
	// round, beyond the initial attempt.
	MaxRetries int
	// MaxNegotiationRounds bounds the number of negotiation rounds per
	// invokeAgent call.
	MaxNegotiationRounds int
	// FailureThreshold is the number of consecutive circuit-breaker failures
	// before an endpoint trips open.
	FailureThreshold int
	// Cooldown is how long an open circuit waits before allowing a probe.
	Cooldown time.Duration
	// AuthEnabled toggles the tool service's bearer-token authorization
	// pipeline. Disabled only for testing.
	AuthEnabled bool
	// SupportedProtocolVersion is the orchestrator's own MAJOR.MINOR protocol
	// version, used by discovery's compatibility check.
	SupportedProtocolVersion string
	// TokenPermissions is the process-wide immutable token → allowed-tool-set
	// map. Tokens absent from the map are invalid.
	TokenPermissions map[string]map[string]struct{}
	// AgentToken records the bearer token configured for the process. The
	// invoker does not read this field: it presents invoker.Agent.Token, which
	// fanout.Run fills from fanout.Request.AgentToken.
	AgentToken string
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithAgentTimeout overrides the per-call agent RPC timeout.
func WithAgentTimeout(d time.Duration) Option {
	return func(c *Config) { c.AgentTimeout = d }
}

// WithToolTimeout overrides the per-call tool-service timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(c *Config) { c.ToolTimeout = d }
}

// WithMaxRetries overrides the retry-attempt count per negotiation round.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithMaxNegotiationRounds overrides the negotiation round bound.
func WithMaxNegotiationRounds(n int) Option {
	return func(c *Config) { c.MaxNegotiationRounds = n }
}

// WithFailureThreshold overrides the circuit breaker's failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) { c.FailureThreshold = n }
}

// WithCooldown overrides the circuit breaker's open-state cooldown.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) { c.Cooldown = d }
}

// WithAuthDisabled turns off the tool service's bearer-token pipeline. Only
// intended for tests.
func WithAuthDisabled() Option {
	return func(c *Config) { c.AuthEnabled = false }
}

// WithSupportedProtocolVersion overrides the orchestrator's declared protocol
// version.
func WithSupportedProtocolVersion(v string) Option {
	return func(c *Config) { c.SupportedProtocolVersion = v }
}

// WithTokenPermissions sets the token → allowed-tool-names map. Each call
// replaces the whole map.
func WithTokenPermissions(perms map[string][]string) Option {
	return func(c *Config) {
		m := make(map[string]map[string]struct{}, len(perms))
		for token, tools := range perms {
			set := make(map[string]struct{}, len(tools))
			for _, tool := range tools {
				set[tool] = struct{}{}
			}
			m[token] = set
		}
		c.TokenPermissions = m
	}
}

// WithAgentToken sets Config.AgentToken.
func WithAgentToken(token string) Option {
	return func(c *Config) { c.AgentToken = token }
}

// Default timeouts, retry bounds, and circuit-breaker parameters, per the
// canonical defaults this system is specified against.
const (
	DefaultAgentTimeout         = 5000 * time.Millisecond
	DefaultToolTimeout          = 3000 * time.Millisecond
	DefaultMaxRetries           = 1
	DefaultMaxNegotiationRounds = 2
	DefaultFailureThreshold     = 3
	DefaultCooldown             = 30 * time.Second
	DefaultSupportedProtocol    = "1.0"
)

// Default returns a Config populated with the canonical defaults, auth
// enabled and no permitted tokens, then applies opts in order.
func Default(opts ...Option) *Config {
	c := &Config{
		AgentTimeout:             DefaultAgentTimeout,
		ToolTimeout:              DefaultToolTimeout,
		MaxRetries:               DefaultMaxRetries,
		MaxNegotiationRounds:     DefaultMaxNegotiationRounds,
		FailureThreshold:         DefaultFailureThreshold,
		Cooldown:                 DefaultCooldown,
		AuthEnabled:              true,
		SupportedProtocolVersion: DefaultSupportedProtocol,
		TokenPermissions:         make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Permits reports whether token is authorized to invoke tool.
func (c *Config) Permits(token, tool string) bool {
	tools, ok := c.TokenPermissions[token]
	if !ok {
		return false
	}
	_, ok = tools[tool]
	return ok
}

// KnownToken reports whether token appears in the permission map at all,
// independent of which tools it may call.
func (c *Config) KnownToken(token string) bool {
	_, ok := c.TokenPermissions[token]
	return ok
}
