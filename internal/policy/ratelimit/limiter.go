// Package ratelimit implements the process-wide request pacing shared by every fetch.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between requests across all workers.
type Limiter struct {
	limiter  *rate.Limiter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	observer func(time.Duration)
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock swaps the time source and the sleep used while waiting.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithObserver receives every non-zero delay the limiter introduced.
func WithObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) {
		l.observer = fn
	}
}

// New creates a Limiter. A non-positive interval disables pacing.
func New(minInterval time.Duration, opts ...Option) *Limiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	l := &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until the next request slot, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	r := l.limiter.ReserveN(l.now(), 1)
	if !r.OK() {
		return errors.New("rate limit wait: reservation refused")
	}
	delay := r.DelayFrom(l.now())
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		r.CancelAt(l.now())
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.observer != nil {
		l.observer(delay)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
