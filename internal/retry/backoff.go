package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry.
type Backoff interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ExponentialJitter doubles a base delay per attempt and applies "equal
// jitter": the delay for attempt n lies in [raw/2, raw] with
// raw = Base * 2^(n-1). Once raw reaches Max the delay is exactly Max.
//
// The jitter window of attempt n+1 starts where the window of attempt n ends,
// so successive delays never decrease.
type ExponentialJitter struct {
	Base time.Duration
	Max  time.Duration

	// Rand returns a float in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

func NewExponentialJitter(base, maxDelay time.Duration) *ExponentialJitter {
	return &ExponentialJitter{Base: base, Max: maxDelay}
}

func (e *ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && raw >= float64(e.Max) {
		return e.Max
	}

	r := rand.Float64 //nolint:gosec // jitter does not need crypto rand
	if e.Rand != nil {
		r = e.Rand
	}
	half := raw / 2
	return time.Duration(half + r()*half)
}
