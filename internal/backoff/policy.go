// Package backoff retries storage operations with jittered exponential
// backoff.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	// Jitter is the randomization factor (0.0 to 1.0) added on top of the
	// base delay.
	Jitter float64
}

// Delay returns the wait before retry attempt n, counting from 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delay computes min(Max, Initial*Factor^(attempt-1) * (1 + Jitter*r)).
func (p Policy) delay(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(total).Round(time.Millisecond)
}

// DefaultPolicy suits database connects: 100ms, doubling, capped at 2s.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     2 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// LockPolicy suits short lock contention such as SQLITE_BUSY.
func LockPolicy() Policy {
	return Policy{
		Initial: 20 * time.Millisecond,
		Max:     500 * time.Millisecond,
		Factor:  1.5,
		Jitter:  0.2,
	}
}
