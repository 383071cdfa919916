package ebay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// pagedSearcher serves total items split into pages of the requested size.
type pagedSearcher struct {
	mu       sync.Mutex
	total    int
	failAt   int // offset that errors; -1 for never
	requests []ebay.SearchRequest
}

func (s *pagedSearcher) Search(_ context.Context, req ebay.SearchRequest) (*ebay.SearchResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.failAt >= 0 && req.Offset == s.failAt {
		return nil, errors.New("upstream failure")
	}

	var items []ebay.ItemSummary
	for i := req.Offset; i < req.Offset+req.Limit && i < s.total; i++ {
		items = append(items, ebay.ItemSummary{
			ItemID: fmt.Sprintf("v1|%d|0", i),
			Title:  fmt.Sprintf("Item %d", i),
			Price:  ebay.ItemPrice{Value: "10.00", Currency: "USD"},
		})
	}
	return &ebay.SearchResponse{
		Items:   items,
		Total:   s.total,
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasMore: req.Offset+req.Limit < s.total,
	}, nil
}

func TestPaginator_Paginate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		total       int
		failAt      int
		pageSize    int
		maxPages    int
		limit       int
		offset      int
		wantItems   int
		wantPages   int
		wantStopped string
		wantErr     bool
	}{
		{
			name:        "stops at max pages",
			total:       1000,
			failAt:      -1,
			pageSize:    10,
			maxPages:    3,
			wantItems:   30,
			wantPages:   3,
			wantStopped: "max_pages",
		},
		{
			name:        "stops when no more results",
			total:       25,
			failAt:      -1,
			pageSize:    10,
			maxPages:    5,
			wantItems:   25,
			wantPages:   3,
			wantStopped: "no_more_results",
		},
		{
			name:        "stops at limit mid-page",
			total:       1000,
			failAt:      -1,
			pageSize:    10,
			maxPages:    5,
			limit:       15,
			wantItems:   15,
			wantPages:   2,
			wantStopped: "limit",
		},
		{
			name:        "empty result set",
			total:       0,
			failAt:      -1,
			pageSize:    10,
			maxPages:    5,
			wantItems:   0,
			wantPages:   1,
			wantStopped: "no_more_results",
		},
		{
			name:        "starts at offset",
			total:       30,
			failAt:      -1,
			pageSize:    10,
			maxPages:    5,
			offset:      20,
			wantItems:   10,
			wantPages:   1,
			wantStopped: "no_more_results",
		},
		{
			name:     "search error on second page",
			total:    100,
			failAt:   10,
			pageSize: 10,
			maxPages: 5,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			searcher := &pagedSearcher{total: tt.total, failAt: tt.failAt}
			p := ebay.NewPaginator(searcher,
				ebay.WithPageSize(tt.pageSize),
				ebay.WithMaxPages(tt.maxPages),
			)

			result, err := p.Paginate(context.Background(), ebay.SearchRequest{
				Query:  "rolleiflex",
				Offset: tt.offset,
			}, tt.limit)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "searching page 1")
				return
			}

			require.NoError(t, err)
			assert.Len(t, result.Items, tt.wantItems)
			assert.Equal(t, tt.wantPages, result.PagesUsed)
			assert.Equal(t, tt.wantStopped, result.StoppedAt)
			assert.Equal(t, tt.total, result.Total)
		})
	}
}

func TestPaginator_RequestsConsecutiveOffsets(t *testing.T) {
	t.Parallel()

	searcher := &pagedSearcher{total: 100, failAt: -1}
	p := ebay.NewPaginator(searcher, ebay.WithPageSize(20), ebay.WithMaxPages(3))

	_, err := p.Paginate(context.Background(), ebay.SearchRequest{Query: "hasselblad", Offset: 5}, 0)
	require.NoError(t, err)

	require.Len(t, searcher.requests, 3)
	for i, req := range searcher.requests {
		assert.Equal(t, 5+i*20, req.Offset)
		assert.Equal(t, 20, req.Limit)
		assert.Equal(t, "hasselblad", req.Query)
	}
}
