// Package backoff provides the delay policies used by the Home Assistant
// reconnect supervisor and the post-command settle wait.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial delay in milliseconds.
	InitialMs float64
	// MaxMs is the maximum delay in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0).
	Jitter float64
}

// Delay calculates the delay for a given attempt number. Attempts start
// at 1; the formula is initialMs * factor^(attempt-1) plus jitter,
// clamped to MaxMs.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	jitterAmount := base * p.Jitter * randomValue
	total := math.Min(p.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Fixed returns a policy that always yields the same delay. The Home
// Assistant supervisor reconnects on a fixed cadence.
func Fixed(d time.Duration) Policy {
	ms := float64(d.Milliseconds())
	return Policy{InitialMs: ms, MaxMs: ms, Factor: 1, Jitter: 0}
}

// Sleep waits for the given duration, respecting context cancellation.
// Returns nil if the wait completed, or ctx.Err() if cancelled first.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
