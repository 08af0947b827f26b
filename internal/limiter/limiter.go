// Package limiter bounds concurrent calls to the external generation models
// across every run in the process.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-lookflow/internal/domain"
	"go-lookflow/internal/metrics"

	"golang.org/x/sync/semaphore"
)

const DefaultCapacity = 10

// Token is proof of a held slot. Release is safe to call more than once.
type Token struct {
	once    sync.Once
	release func()
}

func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.release)
}

// Limiter is a fixed-size counting semaphore.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	wait     time.Duration
	metrics  *metrics.Metrics
}

// New returns a limiter with capacity slots. wait bounds how long Acquire
// blocks; zero means until ctx is done.
func New(capacity int, wait time.Duration, m *metrics.Metrics) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		wait:     wait,
		metrics:  m,
	}
}

func (l *Limiter) Capacity() int { return l.capacity }

// Acquire blocks for a slot. Giving up because the wait bound elapsed returns
// an error wrapping domain.ErrLimiterTimeout, which the retry policy treats
// as retryable.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	start := time.Now()
	err := l.sem.Acquire(waitCtx, 1)
	l.metrics.LimiterWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			l.metrics.LimiterTimeouts.Inc()
			return nil, fmt.Errorf("%w after %s", domain.ErrLimiterTimeout, l.wait)
		}
		return nil, err
	}

	l.metrics.LimiterInFlight.Inc()
	return &Token{release: func() {
		l.metrics.LimiterInFlight.Dec()
		l.sem.Release(1)
	}}, nil
}

// Do runs fn while holding a slot and releases it on every exit path.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer token.Release()
	return fn(ctx)
}
