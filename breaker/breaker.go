// Package breaker implements a per-endpoint circuit breaker shared by all
// concurrent invocations in the process. State lives behind a small,
// concurrency-safe data type rather than free globals, so it can be injected
// as a dependency and swapped out in tests.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State string

const (
	// Closed means calls are permitted and failures are being counted.
	Closed State = "closed"
	// Open means calls are rejected until the cooldown elapses.
	Open State = "open"
	// HalfOpen means probe calls are permitted to test recovery.
	HalfOpen State = "half_open"
)

// DefaultFailureThreshold is the default number of consecutive failures
// before an endpoint's breaker opens.
const DefaultFailureThreshold = 3

// DefaultCooldown is the default time an open breaker waits before allowing
// a half-open probe.
const DefaultCooldown = 30 * time.Second

// Status is a point-in-time snapshot of one endpoint's breaker state, used
// by callers needing to inspect (e.g. in tests) without racing the table.
type Status struct {
	State       State
	Failures    int
	LastFailure time.Time
}

// entry is the live per-endpoint state, guarded by the owning Table's mutex.
type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Table is the process-wide, concurrency-safe circuit-breaker state for all
// endpoints. The zero value is not usable; construct with New.
type Table struct {
	mu               sync.Mutex
	entries          map[string]*entry
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithFailureThreshold overrides the default consecutive-failure threshold.
func WithFailureThreshold(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.failureThreshold = n
		}
	}
}

// WithCooldown overrides the default open-state cooldown.
func WithCooldown(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

// withClock overrides the time source. Used by tests to control elapsed
// time deterministically.
func withClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// New constructs a Table with the given options, defaulting to
// DefaultFailureThreshold and DefaultCooldown.
func New(opts ...Option) *Table {
	t := &Table{
		entries:          make(map[string]*entry),
		failureThreshold: DefaultFailureThreshold,
		cooldown:         DefaultCooldown,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// IsAvailable reports whether a call to endpoint is currently permitted. In
// the closed state it always returns true. In the open state it returns true
// (transitioning to half-open) once the cooldown has elapsed since the last
// recorded failure, otherwise false. In the half-open state it returns true
// on every call; the number of concurrent probes is not limited.
func (t *Table) IsAvailable(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(endpoint)

	switch e.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if t.now().Sub(e.lastFailure) >= t.cooldown {
			e.state = HalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the endpoint to the closed state with a zeroed
// failure count, regardless of its prior state.
func (t *Table) RecordSuccess(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(endpoint)
	e.state = Closed
	e.failures = 0
}

// RecordFailure increments the endpoint's failure counter. In the closed
// state, once the counter reaches the failure threshold the endpoint trips
// to open. In the half-open state, a failed probe immediately trips back to
// open.
func (t *Table) RecordFailure(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(endpoint)
	e.lastFailure = t.now()

	switch e.state {
	case HalfOpen:
		e.state = Open
		e.failures++
	case Closed, Open:
		e.failures++
		if e.failures >= t.failureThreshold {
			e.state = Open
		}
	}
}

// Status returns a snapshot of the endpoint's current state, for tests and
// diagnostics.
func (t *Table) Status(endpoint string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(endpoint)
	return Status{State: e.state, Failures: e.failures, LastFailure: e.lastFailure}
}

// Reset clears all recorded state for the endpoint, as if it had never seen
// a call. Exists for tests.
func (t *Table) Reset(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, endpoint)
}

// entryLocked returns (creating if absent) the entry for endpoint. Callers
// must hold t.mu.
func (t *Table) entryLocked(endpoint string) *entry {
	e, ok := t.entries[endpoint]
	if !ok {
		e = &entry{state: Closed}
		t.entries[endpoint] = e
	}
	return e
}
