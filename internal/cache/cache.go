package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/metrics"
	"github.com/donaldgifford/ebay-mcp/internal/store"
)

const (
	// maxKeyLen is the longest key stored verbatim. Longer keys keep their
	// first keepPrefixLen bytes, so prefix invalidation still matches, and
	// replace the rest with a digest.
	maxKeyLen     = 250
	keepPrefixLen = 180

	defaultRemoteTimeout = 2 * time.Second

	// minPendingTTL bounds how long a failed shared-tier delete is remembered
	// before any Set has shown a longer TTL.
	minPendingTTL = 5 * time.Minute

	tierMemory = "memory"
	tierRemote = "remote"
)

// Remote is the shared cache tier. store.PostgresStore implements it.
type Remote interface {
	GetCacheEntry(ctx context.Context, key string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCachePrefix(ctx context.Context, prefix string) (int, error)
}

// Stats are cumulative counters since the cache was created.
type Stats struct {
	MemoryHits     int64   `json:"memory_hits"`
	RemoteHits     int64   `json:"remote_hits"`
	Misses         int64   `json:"misses"`
	Sets           int64   `json:"sets"`
	Deletes        int64   `json:"deletes"`
	Errors         int64   `json:"errors"`
	PendingDeletes int     `json:"pending_deletes"`
	HitRate        float64 `json:"hit_rate"`
	MemoryEntries  int     `json:"memory_entries"`
	RemoteEnabled  bool    `json:"remote_enabled"`
}

// ResponseCache is a two-tier cache. Reads consult the shared tier first and
// backfill memory; writes go to both. Any shared-tier failure degrades to
// memory only and is never reported to the caller.
//
// A delete the shared tier refuses is kept as pending. Until it is retried
// successfully, matching reads skip the shared tier, so a row that outlived
// an invalidation is never served.
type ResponseCache struct {
	local         *MemoryCache
	remote        Remote
	remoteTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	pendingMu  sync.Mutex
	pending    map[pendingDelete]time.Time
	longestTTL atomic.Int64

	memoryHits atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
	sets       atomic.Int64
	deletes    atomic.Int64
	failures   atomic.Int64
}

var _ ebay.ResponseCache = (*ResponseCache)(nil)

// pendingDelete is a shared-tier delete that failed and must be retried
// before the shared tier is trusted for matching keys.
type pendingDelete struct {
	pattern string
	prefix  bool
}

func (p pendingDelete) covers(key string) bool {
	if p.prefix {
		return strings.HasPrefix(key, p.pattern)
	}
	return key == p.pattern
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithRemote enables the shared tier.
func WithRemote(r Remote) Option {
	return func(c *ResponseCache) {
		c.remote = r
	}
}

// WithRemoteTimeout bounds each shared-tier operation.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *ResponseCache) {
		if d > 0 {
			c.remoteTimeout = d
		}
	}
}

// WithLogger sets the logger for degraded shared-tier operations.
func WithLogger(l *slog.Logger) Option {
	return func(c *ResponseCache) {
		c.logger = l
	}
}

// WithNowFunc sets the clock used to compute backfill TTLs.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = fn
	}
}

// New creates a ResponseCache over local.
func New(local *MemoryCache, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		local:         local,
		remoteTimeout: defaultRemoteTimeout,
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
		pending:       make(map[pendingDelete]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	key = NormalizeKey(key)

	if c.remote != nil && c.remoteTrusted(ctx, key) {
		value, ok, err := c.remoteGet(ctx, key)
		switch {
		case err != nil:
			c.remoteFailed("get", key, err)
		case ok:
			c.remoteHits.Add(1)
			metrics.CacheLookupsTotal.WithLabelValues(tierRemote, "hit").Inc()
			return value, true
		default:
			c.miss()
			return nil, false
		}
	}

	if value, ok := c.local.Get(key); ok {
		c.memoryHits.Add(1)
		metrics.CacheLookupsTotal.WithLabelValues(tierMemory, "hit").Inc()
		return value, true
	}
	c.miss()
	return nil, false
}

func (c *ResponseCache) remoteGet(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	entry, err := c.remote.GetCacheEntry(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if ttl := entry.ExpiresAt.Sub(c.now()); ttl > 0 {
		c.local.Set(key, entry.Value, ttl)
	}
	return entry.Value, true, nil
}

func (c *ResponseCache) miss() {
	c.misses.Add(1)
	metrics.CacheLookupsTotal.WithLabelValues("all", "miss").Inc()
}

// Set stores value in both tiers.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key = NormalizeKey(key)
	c.local.Set(key, value, ttl)
	c.sets.Add(1)
	c.noteTTL(ttl)

	if c.remote == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := c.remote.PutCacheEntry(rctx, key, value, ttl); err != nil {
		c.remoteFailed("set", key, err)
	}
}

// Invalidate removes key, or every key with the given prefix when pattern
// ends in '*'.
func (c *ResponseCache) Invalidate(ctx context.Context, pattern string) {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		c.deletePrefix(ctx, prefix)
		return
	}
	c.delete(ctx, NormalizeKey(pattern))
}

func (c *ResponseCache) delete(ctx context.Context, key string) {
	if c.local.Delete(key) {
		c.deletes.Add(1)
	}
	if c.remote == nil {
		return
	}
	p := pendingDelete{pattern: key}
	if _, err := c.remoteDelete(ctx, p); err != nil {
		c.remoteFailed("delete", key, err)
		c.addPending(p)
	}
}

func (c *ResponseCache) deletePrefix(ctx context.Context, prefix string) {
	n := c.local.DeletePrefix(prefix)
	if c.remote != nil {
		p := pendingDelete{pattern: prefix, prefix: true}
		removed, err := c.remoteDelete(ctx, p)
		if err != nil {
			c.remoteFailed("delete_prefix", prefix, err)
			c.addPending(p)
		}
		n = max(n, removed)
	}
	c.deletes.Add(int64(n))
}

func (c *ResponseCache) remoteDelete(ctx context.Context, p pendingDelete) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if p.prefix {
		return c.remote.DeleteCachePrefix(rctx, p.pattern)
	}
	return 0, c.remote.DeleteCacheEntry(rctx, p.pattern)
}

// addPending remembers a failed delete for as long as any row it targets
// could still be live in the shared tier.
func (c *ResponseCache) addPending(p pendingDelete) {
	ttl := max(time.Duration(c.longestTTL.Load()), minPendingTTL)
	c.pendingMu.Lock()
	c.pending[p] = c.now().Add(ttl)
	c.pendingMu.Unlock()
}

// remoteTrusted reports whether the shared tier may answer for key. Pending
// deletes covering key are retried first; any that still fail keep the
// read in memory.
func (c *ResponseCache) remoteTrusted(ctx context.Context, key string) bool {
	var covering []pendingDelete
	c.pendingMu.Lock()
	now := c.now()
	for p, until := range c.pending {
		if !now.Before(until) {
			delete(c.pending, p)
			continue
		}
		if p.covers(key) {
			covering = append(covering, p)
		}
	}
	c.pendingMu.Unlock()

	trusted := true
	for _, p := range covering {
		if _, err := c.remoteDelete(ctx, p); err != nil {
			c.remoteFailed("retry_delete", p.pattern, err)
			trusted = false
			continue
		}
		c.pendingMu.Lock()
		delete(c.pending, p)
		c.pendingMu.Unlock()
		c.logger.Info("shared cache delete retried", "pattern", p.pattern, "prefix", p.prefix)
	}
	return trusted
}

func (c *ResponseCache) noteTTL(ttl time.Duration) {
	for {
		cur := c.longestTTL.Load()
		if int64(ttl) <= cur || c.longestTTL.CompareAndSwap(cur, int64(ttl)) {
			return
		}
	}
}

func (c *ResponseCache) remoteFailed(op, key string, err error) {
	c.failures.Add(1)
	metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Warn("shared cache unavailable, using memory only",
		"op", op,
		"key", key,
		"error", err,
	)
}

// PurgeExpired drops expired memory entries and pending deletes that no
// longer cover any live shared-tier row.
func (c *ResponseCache) PurgeExpired() int {
	c.pendingMu.Lock()
	now := c.now()
	for p, until := range c.pending {
		if !now.Before(until) {
			delete(c.pending, p)
		}
	}
	c.pendingMu.Unlock()
	return c.local.PurgeExpired()
}

// RemoteEnabled reports whether a shared tier is configured.
func (c *ResponseCache) RemoteEnabled() bool {
	return c.remote != nil
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() Stats {
	s := Stats{
		MemoryHits:     c.memoryHits.Load(),
		RemoteHits:     c.remoteHits.Load(),
		Misses:         c.misses.Load(),
		Sets:           c.sets.Load(),
		Deletes:        c.deletes.Load(),
		Errors:         c.failures.Load(),
		MemoryEntries:  c.local.Len(),
		RemoteEnabled:  c.remote != nil,
	}
	c.pendingMu.Lock()
	s.PendingDeletes = len(c.pending)
	c.pendingMu.Unlock()
	if total := s.MemoryHits + s.RemoteHits + s.Misses; total > 0 {
		s.HitRate = float64(s.MemoryHits+s.RemoteHits) / float64(total)
	}
	return s
}

// NormalizeKey returns key unchanged unless it is longer than the shared
// tier accepts, in which case the tail is replaced by its SHA-256 digest.
func NormalizeKey(key string) string {
	if len(key) <= maxKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return key[:keepPrefixLen] + ":" + hex.EncodeToString(sum[:])
}
