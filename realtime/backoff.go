package realtime

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is the bounded reconnect policy of a Channel.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the +/- fraction applied to each delay, 0 disables it.
	Jitter float64
	// MaxAttempts caps consecutive failed attempts; 0 means unbounded.
	MaxAttempts int
}

// DefaultBackoff is used when a Channel is built without WithBackoff.
var DefaultBackoff = Backoff{
	Initial: time.Second,
	Max:     30 * time.Second,
	Jitter:  0.2,
}

// Exhausted reports whether failures consecutive failed attempts use up the
// retry budget.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}

// Delay returns the wait before reconnect attempt number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt <= 1 {
		return b.jitter(initial)
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return b.jitter(time.Duration(backoff))
}

func (b Backoff) jitter(d time.Duration) time.Duration {
	if b.Jitter <= 0 {
		return d
	}
	spread := b.Jitter * float64(d)
	return time.Duration(float64(d) + (rand.Float64()-0.5)*2*spread)
}
