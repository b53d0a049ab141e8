// Package ratelimit bounds the aggregate rate of outbound calls.
package ratelimit

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every caller that talks to the same
// external service. A nil *Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter refilling ratePerSecond tokens per second up to capacity.
// A non-positive rate disables limiting. A capacity below one defaults to the
// integer part of the rate, at least one.
func New(ratePerSecond float64, capacity int) *Limiter {
	if ratePerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if capacity < 1 {
		capacity = max(1, int(math.Floor(ratePerSecond)))
	}

	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), capacity)}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait aborted: %w", err)
	}
	return nil
}

// Limit returns the refill rate in tokens per second.
func (l *Limiter) Limit() float64 {
	if l == nil {
		return math.Inf(1)
	}
	return float64(l.limiter.Limit())
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int {
	if l == nil {
		return 0
	}
	return l.limiter.Burst()
}
