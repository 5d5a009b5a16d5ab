package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential delay series.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait before attempt n (0-based), without jitter.
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// Series returns the first n delays.
func (b Backoff) Series(n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.Delay(i)
	}
	return out
}

// Jitter spreads d by ±fraction of itself, never below zero.
func Jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	j := float64(d) + (rand.Float64()*2-1)*spread
	if j < 0 {
		return 0
	}
	return time.Duration(j)
}
