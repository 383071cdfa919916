// Package maintenance runs the periodic housekeeping jobs of a serving
// process: purging expired cache rows, pruning expired consent sessions and
// publishing the local quota gauges.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

// Job names, used as metric labels and scheduler lock names.
const (
	JobCachePurge   = "cache_purge"
	JobConsentPrune = "consent_prune"
	JobQuotaRefresh = "quota_refresh"
)

// SharedCache is the shared cache tier. Replicas coordinate through the lock
// so only one purges at a time.
type SharedCache interface {
	PurgeExpiredCache(ctx context.Context) (int, error)
	AcquireSchedulerLock(ctx context.Context, jobName, holder string, ttl time.Duration) (bool, error)
	ReleaseSchedulerLock(ctx context.Context, jobName, holder string) error
}

// LocalCache is the in-process cache tier.
type LocalCache interface {
	PurgeExpired() int
}

// SessionPruner drops expired consent sessions.
type SessionPruner interface {
	Prune() int
}

// QuotaReporter exposes the local rate limiter budget.
type QuotaReporter interface {
	Status() ebay.RateLimitStatus
}

// Deps are the collaborators of the scheduled jobs. Nil members skip their
// part of a job.
type Deps struct {
	Shared  SharedCache
	Local   LocalCache
	Consent SessionPruner
	Quota   QuotaReporter
}

// Intervals configures how often each job runs. A zero interval disables
// the job.
type Intervals struct {
	CachePurge   time.Duration
	ConsentPrune time.Duration
	QuotaRefresh time.Duration
}

// Scheduler manages periodic maintenance tasks.
type Scheduler struct {
	cron    *cron.Cron
	deps    Deps
	holder  string
	lockTTL time.Duration
	log     *slog.Logger
}

// NewScheduler creates a Scheduler with one cron entry per enabled job.
func NewScheduler(deps Deps, iv Intervals, log *slog.Logger) (*Scheduler, error) {
	c := cron.New()

	s := &Scheduler{
		cron:    c,
		deps:    deps,
		holder:  uuid.NewString(),
		lockTTL: max(iv.CachePurge/2, time.Minute),
		log:     log,
	}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{JobCachePurge, iv.CachePurge, s.RunCachePurge},
		{JobConsentPrune, iv.ConsentPrune, s.RunConsentPrune},
		{JobQuotaRefresh, iv.QuotaRefresh, s.RunQuotaRefresh},
	}

	for _, job := range jobs {
		if job.interval <= 0 {
			continue
		}
		if _, err := c.AddFunc(
			"@every "+job.interval.String(),
			s.wrap(job.name, job.run),
		); err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", job.name, err)
		}
	}

	return s, nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop gracefully stops the scheduler, waiting for running jobs to finish.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// Entries returns the registered cron entries for inspection.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx := context.Background()
		if err := run(ctx); err != nil {
			metrics.MaintenanceRunsTotal.WithLabelValues(name, "error").Inc()
			s.log.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		metrics.MaintenanceRunsTotal.WithLabelValues(name, "ok").Inc()
	}
}

// RunCachePurge drops expired entries from both cache tiers. The shared
// tier is purged only by the replica holding the purge lock.
func (s *Scheduler) RunCachePurge(ctx context.Context) error {
	if s.deps.Local != nil {
		if n := s.deps.Local.PurgeExpired(); n > 0 {
			s.log.Debug("purged expired memory cache entries", "count", n)
		}
	}
	if s.deps.Shared == nil {
		return nil
	}

	ok, err := s.deps.Shared.AcquireSchedulerLock(ctx, JobCachePurge, s.holder, s.lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring purge lock: %w", err)
	}
	if !ok {
		s.log.Debug("cache purge skipped, lock held by another replica")
		return nil
	}
	defer func() {
		if err := s.deps.Shared.ReleaseSchedulerLock(ctx, JobCachePurge, s.holder); err != nil {
			s.log.Warn("releasing purge lock", "error", err)
		}
	}()

	n, err := s.deps.Shared.PurgeExpiredCache(ctx)
	if err != nil {
		return fmt.Errorf("purging shared cache: %w", err)
	}
	metrics.CachePurgedTotal.Add(float64(n))
	if n > 0 {
		s.log.Info("purged expired shared cache entries", "count", n)
	}
	return nil
}

// RunConsentPrune removes consent sessions past their window.
func (s *Scheduler) RunConsentPrune(context.Context) error {
	if s.deps.Consent == nil {
		return nil
	}
	if n := s.deps.Consent.Prune(); n > 0 {
		s.log.Debug("pruned expired consent sessions", "count", n)
	}
	return nil
}

// RunQuotaRefresh publishes the local daily budget gauge.
func (s *Scheduler) RunQuotaRefresh(context.Context) error {
	if s.deps.Quota == nil {
		return nil
	}
	st := s.deps.Quota.Status()
	if st.DailyLimit > 0 {
		metrics.EbayDailyRemaining.Set(float64(st.Remaining))
	}
	return nil
}
