package kv

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// defaultJitter spreads each delay over [0.5x, 1.5x] of the current interval.
const defaultJitter = 0.5

// newBackOff returns the retry schedule of one RunOptimistic call: base, doubling per
// attempt, capped at capDelay. Not safe for concurrent use; build one per call.
func newBackOff(base, capDelay time.Duration, jitter float64) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = capDelay
	b.Multiplier = 2
	b.RandomizationFactor = jitter
	b.Reset()
	return b
}

// nextDelay returns the next delay of b, never above capDelay.
func nextDelay(b *backoff.ExponentialBackOff, capDelay time.Duration) time.Duration {
	d := b.NextBackOff()
	if d < 0 {
		return capDelay
	}
	return min(d, capDelay)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
