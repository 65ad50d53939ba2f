package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the pause before retry attempt n using capped
// exponential growth with full jitter. Rand is injectable for tests and
// defaults to the global source.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Rand    func() float64
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial: 500 * time.Millisecond,
		Max:     5 * time.Second,
	}
}

// Delay returns the wait before attempt number attempt (1-based). Attempt 1
// is the initial try; asking for its delay yields the initial backoff, used
// after the first failure.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 5 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	base := float64(initial)
	multiplier := math.Pow(2, float64(attempt-1))
	ceiling := time.Duration(base * multiplier)
	if ceiling < 0 || ceiling > maximum {
		ceiling = maximum
	}

	random := p.Rand
	if random == nil {
		random = rand.Float64
	}
	// Full jitter spreads racing retries across [0, ceiling).
	return time.Duration(random() * float64(ceiling))
}
