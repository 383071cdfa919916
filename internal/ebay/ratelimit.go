package ebay

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

const secondsPerDay = 24 * 60 * 60

// DefaultMaxWait bounds how long Acquire blocks before failing.
const DefaultMaxWait = 10 * time.Second

// RateLimiter controls API call rate and daily usage limits.
// It uses a token bucket for per-second rate limiting and a second bucket
// sized to the daily quota that refills continuously at quota/86400 per
// second, so there is no discrete reset at a day boundary.
type RateLimiter struct {
	limiter  *rate.Limiter
	daily    *rate.Limiter
	maxDaily int64
	maxWait  time.Duration
	failFast bool
	nowFunc  func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterNowFunc overrides the time function for testing.
func WithRateLimiterNowFunc(f func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.nowFunc = f
	}
}

// WithMaxWait bounds how long Acquire may block for a permit.
func WithMaxWait(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		r.maxWait = d
	}
}

// WithFailFast makes Acquire return immediately when no permit is available.
func WithFailFast(failFast bool) RateLimiterOption {
	return func(r *RateLimiter) {
		r.failFast = failFast
	}
}

// WithRateLimiterSleepFunc overrides how the daily bucket waits for refill.
func WithRateLimiterSleepFunc(f func(context.Context, time.Duration) error) RateLimiterOption {
	return func(r *RateLimiter) {
		r.sleep = f
	}
}

// NewRateLimiter creates a rate limiter with the given per-second rate,
// burst size, and daily quota. A non-positive perSecond disables the
// per-second limit; a non-positive maxDaily disables the daily bucket.
func NewRateLimiter(
	perSecond float64,
	burst int,
	maxDaily int64,
	opts ...RateLimiterOption,
) *RateLimiter {
	r := &RateLimiter{
		maxDaily: maxDaily,
		maxWait:  DefaultMaxWait,
		nowFunc:  time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxDaily > 0 {
		r.daily = rate.NewLimiter(rate.Limit(float64(maxDaily)/secondsPerDay), int(maxDaily))
	}
	return r
}

// Acquire takes one permit from both buckets. It blocks up to the configured
// max wait (or not at all in fail-fast mode) and then returns a
// *RateLimitError.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if err := r.acquirePerSecond(ctx); err != nil {
		return err
	}
	return r.acquireDaily(ctx)
}

func (r *RateLimiter) acquirePerSecond(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if r.limiter.Allow() {
		return nil
	}

	if r.failFast || r.maxWait <= 0 {
		metrics.RateLimitRejectionsTotal.WithLabelValues("per_second").Inc()
		return &RateLimitError{RetryAfter: time.Duration(float64(time.Second) / float64(r.limiter.Limit()))}
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.maxWait)
	defer cancel()
	if err := r.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("rate limiter wait: %w", ctx.Err())
		}
		metrics.RateLimitRejectionsTotal.WithLabelValues("per_second").Inc()
		return &RateLimitError{RetryAfter: r.maxWait}
	}
	return nil
}

func (r *RateLimiter) acquireDaily(ctx context.Context) error {
	if r.daily == nil {
		return nil
	}

	start := r.nowFunc()
	for {
		now := r.nowFunc()
		if r.daily.AllowN(now, 1) {
			metrics.EbayDailyRemaining.Set(float64(r.remainingAt(now)))
			return nil
		}

		wait := r.dailyWait(now)
		if r.failFast || now.Add(wait).Sub(start) > r.maxWait {
			metrics.RateLimitRejectionsTotal.WithLabelValues("daily").Inc()
			return &RateLimitError{RetryAfter: wait, Daily: true}
		}
		if err := r.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}
}

// dailyWait is the time until one whole permit has refilled.
func (r *RateLimiter) dailyWait(now time.Time) time.Duration {
	missing := 1 - r.daily.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing/float64(r.daily.Limit())*float64(time.Second))) + time.Nanosecond
}

// DailyCount returns the number of permits currently drawn from the daily
// bucket.
func (r *RateLimiter) DailyCount() int64 {
	if r.daily == nil {
		return 0
	}
	return r.maxDaily - r.Remaining()
}

// MaxDaily returns the configured daily call limit.
func (r *RateLimiter) MaxDaily() int64 {
	return r.maxDaily
}

// Remaining returns the whole permits available in the daily bucket. It is
// never negative.
func (r *RateLimiter) Remaining() int64 {
	if r.daily == nil {
		return math.MaxInt64
	}
	return r.remainingAt(r.nowFunc())
}

func (r *RateLimiter) remainingAt(now time.Time) int64 {
	tokens := math.Floor(r.daily.TokensAt(now))
	if tokens < 0 {
		return 0
	}
	return int64(tokens)
}

// ResetAt returns when the daily bucket will be full again if no further
// calls are made.
func (r *RateLimiter) ResetAt() time.Time {
	now := r.nowFunc()
	if r.daily == nil {
		return now
	}
	missing := float64(r.maxDaily) - r.daily.TokensAt(now)
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / float64(r.daily.Limit()) * float64(time.Second)))
}

// RateLimitStatus is a point-in-time view of the limiter.
type RateLimitStatus struct {
	DailyLimit int64     `json:"daily_limit"`
	Used       int64     `json:"used"`
	Remaining  int64     `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	PerSecond  float64   `json:"per_second"`
	Burst      int       `json:"burst"`
	FailFast   bool      `json:"fail_fast"`
}

// Status returns the limiter's current budget.
func (r *RateLimiter) Status() RateLimitStatus {
	st := RateLimitStatus{
		DailyLimit: r.maxDaily,
		Used:       r.DailyCount(),
		Remaining:  r.Remaining(),
		ResetAt:    r.ResetAt(),
		FailFast:   r.failFast,
	}
	if r.limiter != nil {
		st.PerSecond = float64(r.limiter.Limit())
		st.Burst = r.limiter.Burst()
	}
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
