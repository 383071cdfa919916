package ebay

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how failed REST attempts are retried.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	MaxAttempts int

	// 429 responses get their own attempt budget and delay cap.
	RateLimitMaxAttempts int
	RateLimitMaxDelay    time.Duration

	// RetryableErrorIDs extends the built-in list of REQUEST-category eBay
	// error ids that are safe to retry.
	RetryableErrorIDs []int
}

// DefaultRetryPolicy returns the default policy: 1s base, 60s cap, 25%
// jitter, 3 attempts, and 5 attempts capped at 120s for 429s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:            time.Second,
		MaxDelay:             60 * time.Second,
		Jitter:               0.25,
		MaxAttempts:          3,
		RateLimitMaxAttempts: 5,
		RateLimitMaxDelay:    120 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (0 for the first
// retry): min(MaxDelay, BaseDelay*2^attempt) scaled by 1±Jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.delay(attempt, p.MaxDelay)
}

// RateLimitBackoff returns the delay before retrying a 429. A positive hint
// from Retry-After is honored up to RateLimitMaxDelay.
func (p RetryPolicy) RateLimitBackoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, p.RateLimitMaxDelay)
	}
	return p.delay(attempt, p.RateLimitMaxDelay)
}

func (p RetryPolicy) delay(attempt int, maxDelay time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.Reset()

	var d time.Duration
	for range max(attempt, 0) + 1 {
		d = b.NextBackOff()
	}
	return d
}

func (p RetryPolicy) retryableIDs() map[int]struct{} {
	if len(p.RetryableErrorIDs) == 0 {
		return nil
	}
	ids := make(map[int]struct{}, len(p.RetryableErrorIDs))
	for _, id := range p.RetryableErrorIDs {
		ids[id] = struct{}{}
	}
	return ids
}
