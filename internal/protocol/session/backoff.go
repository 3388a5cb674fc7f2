package session

import (
	"math/rand"
	"time"
)

// Delay returns how long to wait before reconnect attempt n (1-based). The
// first attempt waits InitialDelay unjittered. Later attempts grow by
// Multiplier up to MaxDelay; with Jitter the wait lands in [d/2, d], so it
// never exceeds MaxDelay.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if n <= 1 {
		return b.InitialDelay
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.InitialDelay)
	ceiling := float64(b.MaxDelay)
	for i := 1; i < n; i++ {
		d *= mult
		if ceiling > 0 && d >= ceiling {
			d = ceiling
			break
		}
	}
	if !b.Jitter {
		return time.Duration(d)
	}
	frac := 0.5
	if rng != nil {
		frac = rng.Float64()
	}
	return time.Duration(d/2 + frac*d/2)
}
