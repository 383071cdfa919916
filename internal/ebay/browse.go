package ebay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	browseSearchPath = "/buy/browse/v1/item_summary/search"
	browseItemPath   = "/buy/browse/v1/item/"

	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// SearchRequest defines the parameters for an eBay search.
type SearchRequest struct {
	Query      string
	CategoryID string
	Limit      int
	Offset     int
	Sort       string // "newlyListed", "price", "-price"
	Filters    map[string]string
}

// SearchResponse holds the results of an eBay search.
type SearchResponse struct {
	Items   []ItemSummary `json:"items"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool          `json:"has_more"`
	Cached  bool          `json:"cached,omitempty"`
}

// Searcher runs one page of an item search.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// BrowseClient calls the Browse API with application tokens.
type BrowseClient struct {
	rest     *RestClient
	cacheTTL time.Duration
}

// NewBrowseClient creates a Browse API client. cacheTTL of zero uses the
// REST client's default.
func NewBrowseClient(rest *RestClient, cacheTTL time.Duration) *BrowseClient {
	return &BrowseClient{rest: rest, cacheTTL: cacheTTL}
}

type browseAPIResponse struct {
	ItemSummaries []ItemSummary `json:"itemSummaries"`
	Total         int           `json:"total"`
	Offset        int           `json:"offset"`
	Limit         int           `json:"limit"`
	Next          string        `json:"next"`
}

// Search queries item_summary/search.
func (c *BrowseClient) Search(
	ctx context.Context,
	req SearchRequest,
) (*SearchResponse, error) {
	if req.Query == "" && req.CategoryID == "" {
		return nil, errors.New("search needs a query or a category id")
	}

	resp, err := c.rest.Get(ctx, browseSearchPath, &RequestOptions{
		Params:   searchParams(req),
		CacheTTL: c.cacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}

	var apiResp browseAPIResponse
	if err := resp.Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	return &SearchResponse{
		Items:   apiResp.ItemSummaries,
		Total:   apiResp.Total,
		Offset:  apiResp.Offset,
		Limit:   apiResp.Limit,
		HasMore: apiResp.Next != "",
		Cached:  resp.Cached,
	}, nil
}

// GetItem fetches one item by its RESTful item id (e.g. "v1|1234|0").
func (c *BrowseClient) GetItem(ctx context.Context, itemID string) (*Item, error) {
	if itemID == "" {
		return nil, errors.New("item id is required")
	}
	resp, err := c.rest.Get(ctx, browseItemPath+url.PathEscape(itemID), &RequestOptions{
		CacheTTL: c.cacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", itemID, err)
	}

	var item Item
	if err := resp.Decode(&item); err != nil {
		return nil, fmt.Errorf("parsing item response: %w", err)
	}
	return &item, nil
}

func searchParams(req SearchRequest) url.Values {
	params := url.Values{}
	if req.Query != "" {
		params.Set("q", req.Query)
	}

	if req.CategoryID != "" {
		params.Set("category_ids", req.CategoryID)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	params.Set("limit", strconv.Itoa(min(limit, maxSearchLimit)))

	if req.Offset > 0 {
		params.Set("offset", strconv.Itoa(req.Offset))
	}

	if req.Sort != "" {
		params.Set("sort", req.Sort)
	}

	for k, v := range req.Filters {
		params.Set(k, v)
	}

	return params
}
