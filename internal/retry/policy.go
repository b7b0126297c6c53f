// Package retry provides the per-command exponential backoff and the
// redelivery policy used by secondary delivery channels.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes redelivery schedules for the pub/sub deliverer. Unlike
// Backoff it is stateless; the attempt number is supplied by the caller.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	MaxAttempts     int
}

// DefaultPolicy returns the redelivery policy for pub/sub channels.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Jitter:          0.1,
		MaxAttempts:     5,
	}
}

// CalculateDelay returns the delay before the given attempt (1-based).
func (p Policy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}

	if p.Jitter > 0 {
		jitterRange := delay * p.Jitter
		jitterOffset := (rand.Float64()*2 - 1) * jitterRange
		delay += jitterOffset
	}

	return time.Duration(delay)
}
