// Package resilience provides the advisory circuit breaker gating tracking
// sends after repeated failures.
package resilience

import (
	"sync"
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
)

// CircuitBreaker counts failures and blocks sends once a threshold is
// reached, recovering after a quiet window. It is advisory: callers consult
// CanRequest before enqueueing; nothing in the delivery client enforces it.
//
// CanRequest implicitly clears the counter once the recovery window has
// elapsed since the last failure, so a breaker left alone heals itself.
type CircuitBreaker struct {
	mu           sync.Mutex
	threshold    int
	recoverAfter time.Duration
	clock        clock.Clock

	failureCount int
	lastFailedAt time.Time
}

// NewCircuitBreaker builds a breaker tripping after threshold failures and
// recovering after recoverAfter of quiet.
func NewCircuitBreaker(threshold int, recoverAfter time.Duration, clk clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		recoverAfter: recoverAfter,
		clock:        clk,
	}
}

// DefaultCircuitBreaker returns the stock policy: 3 failures, 300s recovery.
func DefaultCircuitBreaker(clk clock.Clock) *CircuitBreaker {
	return NewCircuitBreaker(3, 300*time.Second, clk)
}

// CanRequest reports whether a send should be attempted. Evaluating past the
// recovery window resets the counter as a side effect.
func (b *CircuitBreaker) CanRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lastFailedAt.IsZero() && b.clock.Now().After(b.lastFailedAt.Add(b.recoverAfter)) {
		b.failureCount = 0
		b.lastFailedAt = time.Time{}
	}
	return b.failureCount < b.threshold
}

// CountFailure records a failed send. Growth above the threshold is fine;
// only the comparison matters.
func (b *CircuitBreaker) CountFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailedAt = b.clock.Now()
	b.failureCount++
}

// Reset clears the breaker, independent of time.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.lastFailedAt = time.Time{}
}
