package vpn

import (
	"context"
	"math/rand"
	"time"

	"github.com/yllada/vpnd-client/common"
)

// Backoff is the reconnect and resync retry policy: exponential growth,
// capped, with symmetric jitter. Attempts are unbounded.
// It is immutable after construction.
type Backoff struct {
	Initial    time.Duration // first delay
	Max        time.Duration // cap for growth
	Multiplier float64       // growth factor per attempt
	Jitter     float64       // fraction of the delay randomized in each direction
}

const defaultMultiplier = 2

// DefaultBackoff returns 250ms doubling up to 5s with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    common.ReconnectInitialDelay,
		Max:        common.ReconnectMaxDelay,
		Multiplier: defaultMultiplier,
		Jitter:     0.2,
	}
}

// NewBackoff builds a policy from config values; zero or invalid values
// fall back to the defaults.
func NewBackoff(initial, max time.Duration) Backoff {
	b := DefaultBackoff()
	if initial > 0 {
		b.Initial = initial
	}
	if max > 0 {
		b.Max = max
	}
	if b.Initial > b.Max {
		b.Initial = b.Max
	}
	return b
}

// base returns the un-jittered delay for attempt (1-based). A Multiplier
// below 1 would shrink the delay, so the default is used instead.
func (b Backoff) base(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = defaultMultiplier
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Delay returns the jittered delay before retry attempt (1-based).
// The result never exceeds Max.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.base(attempt)
	if d <= 0 || b.Jitter <= 0 {
		return d
	}
	spread := float64(d) * b.Jitter
	d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Sleep waits for the delay of attempt. It returns early with nil when
// wake fires, and with ctx.Err() when ctx is cancelled. wake may be nil.
func (b Backoff) Sleep(ctx context.Context, attempt int, wake <-chan struct{}) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	}
}
