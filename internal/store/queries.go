package store

// Cache queries. Expiry is always compared against the database clock so
// replicas with skewed clocks agree on what is live.
const (
	queryGetCacheEntry = `
		SELECT key, value, created_at, expires_at
		FROM response_cache
		WHERE key = $1 AND expires_at > now()`

	queryPutCacheEntry = `
		INSERT INTO response_cache (key, value, created_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
			SET value      = EXCLUDED.value,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at`

	queryDeleteCacheEntry = `
		DELETE FROM response_cache WHERE key = $1`

	queryDeleteCachePrefix = `
		DELETE FROM response_cache WHERE key LIKE $1 ESCAPE '\'`

	queryPurgeExpiredCache = `
		DELETE FROM response_cache WHERE expires_at <= now()`
)

// Scheduler queries.
const (
	queryAcquireSchedulerLock = `
		INSERT INTO scheduler_locks (job_name, lock_holder, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (job_name) DO UPDATE
			SET locked_at   = now(),
				lock_holder = EXCLUDED.lock_holder,
				expires_at  = EXCLUDED.expires_at
			WHERE scheduler_locks.expires_at < now()
		RETURNING job_name`

	queryReleaseSchedulerLock = `
		DELETE FROM scheduler_locks WHERE job_name = $1 AND lock_holder = $2`
)
