package fetch

import (
	"sync"
	"time"
)

// CircuitState mirrors the classic closed/open/half-open circuit breaker
// state machine, adapted from jmylchreest-tvarr/pkg/httpclient/client.go.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker protects a single origin from being hammered with
// requests once it starts failing consistently.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	timeout   time.Duration

	state           CircuitState
	failures        int
	halfOpenCount   int
	lastFailureTime time.Time
}

// NewCircuitBreaker constructs a breaker that opens after threshold
// consecutive failures and stays open for timeout before probing again.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, timeout: timeout}
}

// Allow reports whether a request may proceed, transitioning Open->HalfOpen
// once timeout has elapsed since the last failure.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.lastFailureTime) >= b.timeout {
			b.state = CircuitHalfOpen
			b.halfOpenCount = 0
			return true
		}
		return false
	case CircuitHalfOpen:
		if b.halfOpenCount < 1 {
			b.halfOpenCount++
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the breaker to Closed.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.halfOpenCount = 0
}

// RecordFailure counts a failure, opening the breaker once threshold is
// reached, or immediately if the failure occurred while half-open.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	if b.state == CircuitHalfOpen {
		b.state = CircuitOpen
		b.failures = b.threshold
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = CircuitOpen
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed, used when the caller learns
// independently that the origin has recovered (e.g. a content-steering
// reload pointed elsewhere).
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.halfOpenCount = 0
}
