package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/ebay-mcp/internal/cache"
	"github.com/donaldgifford/ebay-mcp/internal/store"
)

// CacheLister lists rows of the shared cache tier.
type CacheLister interface {
	ListCacheEntries(ctx context.Context, q *store.CacheQuery) ([]store.CacheEntryInfo, int, error)
}

// CacheInvalidator removes entries from both cache tiers.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string)
	Stats() cache.Stats
}

// CacheHandler handles response cache administration.
type CacheHandler struct {
	lister CacheLister
	cache  CacheInvalidator
}

// NewCacheHandler creates a CacheHandler. lister is nil when no shared tier
// is configured; listing then answers 503.
func NewCacheHandler(lister CacheLister, c CacheInvalidator) *CacheHandler {
	return &CacheHandler{lister: lister, cache: c}
}

// --- Input/Output types ---

// ListCacheInput filters the shared cache listing.
type ListCacheInput struct {
	Prefix         string `query:"prefix"          doc:"Only keys starting with this prefix"`
	IncludeExpired bool   `query:"include_expired" doc:"Include rows past their expiry that have not been purged yet"`
	Limit          int    `query:"limit"           doc:"Number of results (default 50)"                                 minimum:"0" maximum:"500"`
	Offset         int    `query:"offset"          doc:"Pagination offset"                                              minimum:"0"`
	OrderBy        string `query:"order_by"        doc:"Sort field"                        enum:"key,created_at,expires_at,size,"`
}

// ListCacheOutput is the response for listing cache entries.
type ListCacheOutput struct {
	Body struct {
		Entries []store.CacheEntryInfo `json:"entries"`
		Total   int                    `json:"total"`
		Limit   int                    `json:"limit"`
		Offset  int                    `json:"offset"`
	}
}

// InvalidateCacheInput selects the entries to drop.
type InvalidateCacheInput struct {
	Pattern string `query:"pattern" required:"true" doc:"Exact key, or a prefix ending in *" example:"inventory:*"`
}

// InvalidateCacheOutput is the response for invalidating cache entries.
type InvalidateCacheOutput struct {
	Body struct {
		Pattern string      `json:"pattern"`
		Deleted int64       `json:"deleted" doc:"Entries removed by this call"`
		Stats   cache.Stats `json:"stats"`
	}
}

// --- Handlers ---

// ListCache returns shared-tier cache rows without their values.
func (h *CacheHandler) ListCache(ctx context.Context, input *ListCacheInput) (*ListCacheOutput, error) {
	if h.lister == nil {
		return nil, huma.Error503ServiceUnavailable("shared cache is not configured")
	}

	q := &store.CacheQuery{
		Prefix:         input.Prefix,
		IncludeExpired: input.IncludeExpired,
		Limit:          input.Limit,
		Offset:         input.Offset,
		OrderBy:        input.OrderBy,
	}

	entries, total, err := h.lister.ListCacheEntries(ctx, q)
	if err != nil {
		return nil, huma.Error500InternalServerError("cache query failed: " + err.Error())
	}

	resp := &ListCacheOutput{}
	resp.Body.Entries = entries
	if resp.Body.Entries == nil {
		resp.Body.Entries = []store.CacheEntryInfo{}
	}
	resp.Body.Total = total
	resp.Body.Limit = q.Limit
	resp.Body.Offset = q.Offset

	return resp, nil
}

// InvalidateCache drops one key or, with a trailing *, every key under a
// prefix from both tiers.
func (h *CacheHandler) InvalidateCache(
	ctx context.Context,
	input *InvalidateCacheInput,
) (*InvalidateCacheOutput, error) {
	pattern := strings.TrimSpace(input.Pattern)
	if pattern == "" || pattern == "*" {
		return nil, huma.Error400BadRequest("pattern must name a key or a non-empty prefix")
	}

	before := h.cache.Stats().Deletes
	h.cache.Invalidate(ctx, pattern)

	resp := &InvalidateCacheOutput{}
	resp.Body.Pattern = pattern
	resp.Body.Stats = h.cache.Stats()
	resp.Body.Deleted = resp.Body.Stats.Deletes - before

	return resp, nil
}

// RegisterCacheRoutes registers cache endpoints with the Huma API.
func RegisterCacheRoutes(api huma.API, h *CacheHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cache",
		Method:      http.MethodGet,
		Path:        "/api/v1/cache",
		Summary:     "List cache entries",
		Description: "Lists shared cache rows with size and expiry. Values are not returned.",
		Tags:        []string{"cache"},
	}, h.ListCache)

	huma.Register(api, huma.Operation{
		OperationID: "invalidate-cache",
		Method:      http.MethodDelete,
		Path:        "/api/v1/cache",
		Summary:     "Invalidate cache entries",
		Description: "Removes a key, or every key under a prefix ending in *, from both cache tiers.",
		Tags:        []string{"cache"},
	}, h.InvalidateCache)
}
