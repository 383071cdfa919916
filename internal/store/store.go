// Package store provides durable state for ebay-mcp: the PostgreSQL shared
// tier of the response cache and the bbolt file holding user-consent tokens.
// Callers depend on the Store interface, never on concrete implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a cache entry is missing or expired.
var ErrNotFound = errors.New("not found")

// CacheEntry is a stored response body.
type CacheEntry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CacheEntryInfo describes a cache row without its value.
type CacheEntryInfo struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// CacheQuery defines optional filters for listing cache entries.
type CacheQuery struct {
	Prefix         string
	IncludeExpired bool
	Limit          int // default 50
	Offset         int
	OrderBy        string // "key", "created_at", "expires_at", "size"
}

// Store defines the shared cache operations.
type Store interface {
	// Cache entries
	GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error)
	PutCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCachePrefix(ctx context.Context, prefix string) (int, error)
	PurgeExpiredCache(ctx context.Context) (int, error)
	ListCacheEntries(ctx context.Context, q *CacheQuery) ([]CacheEntryInfo, int, error)

	// Scheduler
	AcquireSchedulerLock(ctx context.Context, jobName string, holder string, ttl time.Duration) (bool, error)
	ReleaseSchedulerLock(ctx context.Context, jobName string, holder string) error

	// Migrations
	Migrate(ctx context.Context) error

	// Health
	Ping(ctx context.Context) error
}
