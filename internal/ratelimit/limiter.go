// Package ratelimit throttles calls into the external research
// processor so a burst of job submissions cannot collectively exceed a
// configured rate against Wikipedia.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates calls into a collaborator that has its own rate limits.
type Limiter interface {
	// Wait blocks until a token is available or ctx is done.
	Wait(ctx context.Context) error
}

// TokenBucket wraps golang.org/x/time/rate so a non-positive rate
// disables throttling outright rather than blocking forever.
type TokenBucket struct {
	limiter *rate.Limiter
}

// New creates a TokenBucket with the given sustained rate (per second)
// and burst size. A non-positive perSecond disables throttling: Wait
// always returns immediately.
func New(perSecond float64, burst int) *TokenBucket {
	if perSecond <= 0 {
		return &TokenBucket{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available, or returns ctx's error if it
// is cancelled first. A disabled TokenBucket never blocks.
func (t *TokenBucket) Wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
