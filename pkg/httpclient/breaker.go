package httpclient

import (
	"sync"
	"time"
)

// CircuitState is the breaker position: closed passes traffic, open sheds
// it, half-open admits a limited number of probes.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorCategory classifies the outcome of one request for the tallies kept
// alongside the breaker counters.
type ErrorCategory int

const (
	CategorySuccess ErrorCategory = iota
	CategoryClientError
	CategoryServerError
	CategoryTimeout
	CategoryNetwork
)

// ErrorCounts tallies request outcomes per category since the breaker was
// created. The counts never reset; they feed the health endpoint.
type ErrorCounts struct {
	Success     int64 `json:"success"`
	ClientError int64 `json:"client_error"`
	ServerError int64 `json:"server_error"`
	Timeout     int64 `json:"timeout"`
	Network     int64 `json:"network"`
}

func (e *ErrorCounts) add(cat ErrorCategory) {
	switch cat {
	case CategorySuccess:
		e.Success++
	case CategoryClientError:
		e.ClientError++
	case CategoryServerError:
		e.ServerError++
	case CategoryTimeout:
		e.Timeout++
	case CategoryNetwork:
		e.Network++
	}
}

// Transition records one breaker state change.
type Transition struct {
	From   CircuitState `json:"from"`
	To     CircuitState `json:"to"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}

// maxTransitions bounds the history kept per breaker.
const maxTransitions = 32

// BreakerStats is a point-in-time snapshot of one breaker, labelled with the
// upstream name for status reporting.
type BreakerStats struct {
	Name                 string       `json:"name"`
	State                CircuitState `json:"state"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	TotalRequests        int64        `json:"total_requests"`
	TotalSuccesses       int64        `json:"total_successes"`
	TotalFailures        int64        `json:"total_failures"`
	// FailureRate is TotalFailures over TotalRequests, as a percentage.
	FailureRate float64      `json:"failure_rate"`
	LastFailure time.Time    `json:"last_failure"`
	LastSuccess time.Time    `json:"last_success"`
	StateSince  time.Time    `json:"state_since"`
	NextProbeAt time.Time    `json:"next_probe_at,omitempty"`
	ErrorCounts ErrorCounts  `json:"error_counts"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// CircuitBreaker trips after a run of consecutive failures and recloses once
// a probe succeeds after the reset timeout.
type CircuitBreaker struct {
	threshold   int
	resetAfter  time.Duration
	halfOpenMax int

	mu          sync.Mutex
	state       CircuitState
	stateSince  time.Time
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	lastSuccess time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	counts         ErrorCounts
	transitions    []Transition
}

// NewCircuitBreaker creates a closed breaker. threshold is the consecutive
// failure count that opens it, resetAfter how long it stays open before
// admitting probes, halfOpenMax how many probes may run at once.
func NewCircuitBreaker(threshold int, resetAfter time.Duration, halfOpenMax int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitThreshold
	}
	if resetAfter <= 0 {
		resetAfter = DefaultCircuitTimeout
	}
	if halfOpenMax <= 0 {
		halfOpenMax = DefaultCircuitHalfOpenMax
	}
	return &CircuitBreaker{
		threshold:   threshold,
		resetAfter:  resetAfter,
		halfOpenMax: halfOpenMax,
		state:       CircuitClosed,
		stateSince:  time.Now(),
	}
}

// Allow reports whether a request may proceed, admitting probes once an open
// breaker has cooled down.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.lastFailure) < b.resetAfter {
			return false
		}
		b.shift(CircuitHalfOpen, "reset timeout elapsed")
		b.probes = 1
		return true
	case CircuitHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false
		}
		b.probes++
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful request. A success while half-open
// recloses the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	b.totalRequests++
	b.totalSuccesses++
	b.lastSuccess = time.Now()
	b.counts.add(CategorySuccess)

	if b.state == CircuitHalfOpen {
		b.shift(CircuitClosed, "probe succeeded")
		b.failures = 0
		b.successes = 0
	}
}

// RecordFailure notes a failed request under the given category. Reaching
// the threshold opens the breaker; any failure while half-open reopens it.
func (b *CircuitBreaker) RecordFailure(cat ErrorCategory) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	b.totalRequests++
	b.totalFailures++
	b.lastFailure = time.Now()
	b.counts.add(cat)

	switch b.state {
	case CircuitClosed:
		if b.failures >= b.threshold {
			b.shift(CircuitOpen, "failure threshold reached")
		}
	case CircuitHalfOpen:
		b.shift(CircuitOpen, "probe failed")
	}
}

// State returns the current breaker position.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears the consecutive counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != CircuitClosed {
		b.shift(CircuitClosed, "manual reset")
	}
	b.failures = 0
	b.successes = 0
	b.probes = 0
}

// Stats snapshots the breaker under the given upstream name.
func (b *CircuitBreaker) Stats(name string) BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BreakerStats{
		Name:                 name,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		TotalRequests:        b.totalRequests,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		LastFailure:          b.lastFailure,
		LastSuccess:          b.lastSuccess,
		StateSince:           b.stateSince,
		ErrorCounts:          b.counts,
		Transitions:          append([]Transition(nil), b.transitions...),
	}
	if stats.TotalRequests > 0 {
		stats.FailureRate = float64(stats.TotalFailures) / float64(stats.TotalRequests) * 100
	}
	if b.state == CircuitOpen && !b.lastFailure.IsZero() {
		stats.NextProbeAt = b.lastFailure.Add(b.resetAfter)
	}
	return stats
}

// shift moves to a new state and records the transition. Callers hold mu.
func (b *CircuitBreaker) shift(to CircuitState, reason string) {
	b.transitions = append(b.transitions, Transition{
		From:   b.state,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	if len(b.transitions) > maxTransitions {
		b.transitions = b.transitions[len(b.transitions)-maxTransitions:]
	}
	b.state = to
	b.stateSince = time.Now()
}
