package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrRetryExhausted indicates a backoff has produced its maximum number of
// delays. The caller decides whether to drop or escalate; the backoff itself
// only refuses to produce a further delay.
var ErrRetryExhausted = errors.New("retry count exhausted")

// Backoff computes per-attempt delays as interval * multiplier^(n-1) with
// uniform jitter. It is attached to a single command and serialized with it,
// so each command's retry cadence is independent and survives a process
// restart. All fields are exported for JSON round-tripping.
type Backoff struct {
	Interval     time.Duration `json:"interval"`
	Multiplier   float64       `json:"multiplier"`
	MaxCount     int           `json:"max_count"`
	RandomFactor float64       `json:"random_factor"`
	Count        int           `json:"count"`
}

// NewBackoff returns a backoff with the default policy:
// 0.5s initial interval, x4 multiplier, 6 attempts, 25% jitter.
func NewBackoff() *Backoff {
	return &Backoff{
		Interval:     500 * time.Millisecond,
		Multiplier:   4,
		MaxCount:     6,
		RandomFactor: 0.25,
	}
}

// NextDelay increments the attempt counter and returns the delay before the
// next attempt. Returns ErrRetryExhausted once the counter exceeds MaxCount.
func (b *Backoff) NextDelay() (time.Duration, error) {
	b.Count++
	if b.Count > b.MaxCount {
		return 0, ErrRetryExhausted
	}

	delay := float64(b.Interval) * math.Pow(b.Multiplier, float64(b.Count-1))
	if b.RandomFactor > 0 {
		jitter := 1 + (rand.Float64()*2-1)*b.RandomFactor
		delay *= jitter
	}
	return time.Duration(delay), nil
}
