package ebay

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	defaultPageSize = 50
	defaultMaxPages = 5
)

// Paginator walks consecutive search result pages. Each page is a separate
// RestClient call and therefore draws its own rate-limit permit.
type Paginator struct {
	client   Searcher
	logger   *slog.Logger
	pageSize int
	maxPages int
}

// PaginatorOption configures the Paginator.
type PaginatorOption func(*Paginator)

// WithPageSize overrides the default page size.
func WithPageSize(size int) PaginatorOption {
	return func(p *Paginator) {
		p.pageSize = size
	}
}

// WithMaxPages overrides the default max pages.
func WithMaxPages(n int) PaginatorOption {
	return func(p *Paginator) {
		p.maxPages = n
	}
}

// WithPaginatorLogger sets the logger.
func WithPaginatorLogger(l *slog.Logger) PaginatorOption {
	return func(p *Paginator) {
		p.logger = l
	}
}

// NewPaginator creates a new Paginator.
func NewPaginator(client Searcher, opts ...PaginatorOption) *Paginator {
	p := &Paginator{
		client:   client,
		logger:   slog.New(slog.DiscardHandler),
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PaginateResult holds the result of a paginated search.
type PaginateResult struct {
	Items     []ItemSummary `json:"items"`
	Total     int           `json:"total"`
	PagesUsed int           `json:"pages_used"`
	StoppedAt string        `json:"stopped_at"` // "max_pages", "no_more_results", "limit"
}

// Paginate fetches up to limit items (all pages up to maxPages when limit
// is zero), starting at req.Offset.
func (p *Paginator) Paginate(
	ctx context.Context,
	req SearchRequest,
	limit int,
) (*PaginateResult, error) {
	req.Limit = p.pageSize
	start := req.Offset

	result := &PaginateResult{}

	for page := range p.maxPages {
		req.Offset = start + page*p.pageSize

		resp, err := p.client.Search(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("searching page %d: %w", page, err)
		}

		result.PagesUsed++
		result.Total = resp.Total
		p.logger.Debug("fetched search page",
			"page", page,
			"items", len(resp.Items),
			"cached", resp.Cached,
		)

		if len(resp.Items) == 0 {
			result.StoppedAt = "no_more_results"
			return result, nil
		}

		for i := range resp.Items {
			result.Items = append(result.Items, resp.Items[i])
			if limit > 0 && len(result.Items) >= limit {
				result.StoppedAt = "limit"
				return result, nil
			}
		}

		if !resp.HasMore {
			result.StoppedAt = "no_more_results"
			return result, nil
		}
	}

	result.StoppedAt = "max_pages"
	return result, nil
}
