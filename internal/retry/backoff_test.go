package retry

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialJitter_NonDecreasing(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed+1))
		b := &ExponentialJitter{Base: time.Second, Max: 30 * time.Second, Rand: rng.Float64}

		prev := time.Duration(0)
		for attempt := 1; attempt <= 12; attempt++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "seed %d attempt %d", seed, attempt)
			assert.LessOrEqual(t, d, 30*time.Second)
			prev = d
		}
	}
}

func TestExponentialJitter_Bounds(t *testing.T) {
	low := &ExponentialJitter{Base: time.Second, Max: 30 * time.Second, Rand: func() float64 { return 0 }}
	high := &ExponentialJitter{Base: time.Second, Max: 30 * time.Second, Rand: func() float64 { return 0.999999 }}

	assert.Equal(t, 500*time.Millisecond, low.Delay(1))
	assert.InDelta(t, float64(time.Second), float64(high.Delay(1)), float64(time.Millisecond))
	assert.Equal(t, 4*time.Second, low.Delay(4))
	assert.Equal(t, 30*time.Second, low.Delay(6), "32s raw is capped")
	assert.Equal(t, 30*time.Second, high.Delay(20))
	assert.Equal(t, 500*time.Millisecond, low.Delay(0), "attempt below 1 is treated as 1")
}

func TestConstant(t *testing.T) {
	c := Constant{Interval: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, c.Delay(1))
	assert.Equal(t, 10*time.Millisecond, c.Delay(7))
}
