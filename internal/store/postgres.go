package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPoolSize = 10

// PostgresStore implements Store using pgxpool (connection-pooled PostgreSQL).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore with connection pooling.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	cfg.MaxConns = defaultPoolSize

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close gracefully shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies pending SQL schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := RunMigrations(ctx, s.pool)
	return err
}

// GetCacheEntry returns a live cache entry, or ErrNotFound when the key is
// absent or expired.
func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	e := &CacheEntry{}
	err := s.pool.QueryRow(ctx, queryGetCacheEntry, key).Scan(
		&e.Key, &e.Value, &e.CreatedAt, &e.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting cache entry: %w", err)
	}
	return e, nil
}

// PutCacheEntry inserts or replaces a cache entry expiring after ttl.
func (s *PostgresStore) PutCacheEntry(
	ctx context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) error {
	if ttl <= 0 {
		return fmt.Errorf("putting cache entry %q: ttl must be positive", key)
	}
	if _, err := s.pool.Exec(ctx, queryPutCacheEntry, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("putting cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes a single key. Deleting a missing key is not an
// error.
func (s *PostgresStore) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, queryDeleteCacheEntry, key); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// DeleteCachePrefix removes every key starting with prefix and returns the
// number of rows deleted.
func (s *PostgresStore) DeleteCachePrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx, queryDeleteCachePrefix, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("deleting cache prefix: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpiredCache deletes expired rows and returns how many were removed.
func (s *PostgresStore) PurgeExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, queryPurgeExpiredCache)
	if err != nil {
		return 0, fmt.Errorf("purging expired cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListCacheEntries queries cache rows with optional filters, returning
// results and the total count.
func (s *PostgresStore) ListCacheEntries(
	ctx context.Context,
	q *CacheQuery,
) ([]CacheEntryInfo, int, error) {
	if q == nil {
		q = &CacheQuery{}
	}
	dataSQL, countSQL, args := q.ToSQL()

	var total int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting cache entries: %w", err)
	}

	rows, err := s.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntryInfo
	for rows.Next() {
		var e CacheEntryInfo
		if err := rows.Scan(&e.Key, &e.Size, &e.CreatedAt, &e.ExpiresAt, &e.Expired); err != nil {
			return nil, 0, fmt.Errorf("scanning cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating cache entries: %w", err)
	}

	return entries, total, nil
}

// AcquireSchedulerLock claims jobName for holder until ttl elapses. It
// returns false when another holder has an unexpired lock.
func (s *PostgresStore) AcquireSchedulerLock(
	ctx context.Context,
	jobName string,
	holder string,
	ttl time.Duration,
) (bool, error) {
	var gotName string
	err := s.pool.QueryRow(ctx, queryAcquireSchedulerLock, jobName, holder, ttl.Seconds()).Scan(&gotName)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // lock held by another; conflict not replaced
	}
	if err != nil {
		return false, fmt.Errorf("acquiring scheduler lock: %w", err)
	}

	return true, nil
}

// ReleaseSchedulerLock deletes the lock row for the given job and holder.
func (s *PostgresStore) ReleaseSchedulerLock(
	ctx context.Context,
	jobName string,
	holder string,
) error {
	_, err := s.pool.Exec(ctx, queryReleaseSchedulerLock, jobName, holder)
	if err != nil {
		return fmt.Errorf("releasing scheduler lock: %w", err)
	}
	return nil
}
