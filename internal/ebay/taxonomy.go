package ebay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

const taxonomyBase = "/commerce/taxonomy/v1"

// Category trees change rarely.
const taxonomyCacheTTL = 24 * time.Hour

// TaxonomyClient calls the Taxonomy API.
type TaxonomyClient struct {
	rest *RestClient
}

// NewTaxonomyClient creates a Taxonomy API client.
func NewTaxonomyClient(rest *RestClient) *TaxonomyClient {
	return &TaxonomyClient{rest: rest}
}

// CategoryTreeID identifies a marketplace's category tree.
type CategoryTreeID struct {
	CategoryTreeID      string `json:"categoryTreeId"`
	CategoryTreeVersion string `json:"categoryTreeVersion"`
}

// GetDefaultCategoryTreeID returns the category tree for marketplaceID
// (e.g. EBAY_US).
func (c *TaxonomyClient) GetDefaultCategoryTreeID(ctx context.Context, marketplaceID string) (*CategoryTreeID, error) {
	if marketplaceID == "" {
		marketplaceID = defaultMarketplace
	}
	resp, err := c.rest.Get(ctx, taxonomyBase+"/get_default_category_tree_id", &RequestOptions{
		Params:   url.Values{"marketplace_id": {marketplaceID}},
		CacheTTL: taxonomyCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("getting default category tree: %w", err)
	}

	var out CategoryTreeID
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCategorySuggestions returns categories matching query in a tree.
func (c *TaxonomyClient) GetCategorySuggestions(
	ctx context.Context,
	treeID, query string,
) ([]CategorySuggestion, error) {
	if treeID == "" || query == "" {
		return nil, errors.New("category tree id and query are required")
	}
	path := taxonomyBase + "/category_tree/" + url.PathEscape(treeID) + "/get_category_suggestions"
	resp, err := c.rest.Get(ctx, path, &RequestOptions{
		Params:   url.Values{"q": {query}},
		CacheTTL: taxonomyCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("getting category suggestions: %w", err)
	}

	var out struct {
		CategorySuggestions []CategorySuggestion `json:"categorySuggestions"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.CategorySuggestions, nil
}
