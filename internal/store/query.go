package store

import (
	"fmt"
	"strings"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	orderByKey       = "key"
	orderByCreatedAt = "created_at"
	orderByExpiresAt = "expires_at"
	orderBySize      = "size"
)

// validOrderBy maps allowed OrderBy values to their SQL column expressions.
var validOrderBy = map[string]string{
	orderByKey:       "key ASC",
	orderByCreatedAt: "created_at DESC",
	orderByExpiresAt: "expires_at ASC",
	orderBySize:      "octet_length(value) DESC",
}

const defaultOrderBy = "created_at DESC"

const baseCacheSelect = `SELECT key, octet_length(value), created_at, expires_at, expires_at <= now()
FROM response_cache`

const countCacheSelect = "SELECT COUNT(*) FROM response_cache"

// ToSQL builds the WHERE clause, ORDER BY, LIMIT, and OFFSET for a cache
// listing. It returns the data query, the count query, and the positional
// parameters shared by both.
func (q *CacheQuery) ToSQL() (dataSQL, countSQL string, args []any) {
	var conditions []string
	paramIdx := 1

	if q.Prefix != "" {
		conditions = append(conditions, fmt.Sprintf(`key LIKE $%d ESCAPE '\'`, paramIdx))
		args = append(args, likePrefix(q.Prefix))
		paramIdx++
	}

	if !q.IncludeExpired {
		conditions = append(conditions, "expires_at > now()")
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	orderClause := defaultOrderBy
	if q.OrderBy != "" {
		if col, ok := validOrderBy[q.OrderBy]; ok {
			orderClause = col
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset := max(q.Offset, 0)

	dataSQL = fmt.Sprintf(
		"%s%s ORDER BY %s LIMIT %d OFFSET %d",
		baseCacheSelect, whereClause, orderClause, limit, offset,
	)

	countSQL = countCacheSelect + whereClause

	return dataSQL, countSQL, args
}

// likePrefix escapes LIKE metacharacters in prefix and appends the
// wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
