// Package backoff provides the pluggable retry delay strategy the
// worker pool uses between a failed processing attempt and the next
// claim eligibility. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retrying a job whose
	// current retry count is retryCount (0-indexed: 0 means this job
	// has not been retried yet).
	Delay(retryCount int) time.Duration
}

// DoublingJitter is the worker loop's retry delay: 2^(retryCount+1) *
// Base plus a uniform jitter term in [0, Base). Doubling the exponent
// at each retry spaces out repeated failures on the same job; the
// jitter term keeps many simultaneously-failing jobs from retrying in
// lockstep.
type DoublingJitter struct {
	Base time.Duration
}

// NewDoublingJitter creates a DoublingJitter strategy with the given
// base delay.
func NewDoublingJitter(base time.Duration) *DoublingJitter {
	return &DoublingJitter{Base: base}
}

// Delay returns 2^(retryCount+1)*Base + uniform(0, Base).
func (d *DoublingJitter) Delay(retryCount int) time.Duration {
	exp := math.Pow(2, float64(retryCount+1))
	jitter := rand.Float64() * float64(d.Base) //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(exp*float64(d.Base) + jitter)
}
