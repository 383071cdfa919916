package ebay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

const inventoryItemPath = "/sell/inventory/v1/inventory_item"

var inventoryScopes = NewScopeSet(ScopeSellInventory)

// InventoryClient calls the Inventory API with the user's token. Mutations
// invalidate cached inventory reads.
type InventoryClient struct {
	rest *RestClient
}

// NewInventoryClient creates an Inventory API client.
func NewInventoryClient(rest *RestClient) *InventoryClient {
	return &InventoryClient{rest: rest}
}

// InventoryPage is one page of inventory items.
type InventoryPage struct {
	Total          int             `json:"total"`
	Size           int             `json:"size"`
	Limit          int             `json:"limit"`
	Offset         int             `json:"offset"`
	InventoryItems []InventoryItem `json:"inventoryItems"`
}

// List returns a page of inventory items.
func (c *InventoryClient) List(ctx context.Context, limit, offset int) (*InventoryPage, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	resp, err := c.rest.Get(ctx, inventoryItemPath, &RequestOptions{
		Params: params,
		Scopes: inventoryScopes,
	})
	if err != nil {
		return nil, fmt.Errorf("listing inventory items: %w", err)
	}

	var page InventoryPage
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get returns one inventory item by SKU.
func (c *InventoryClient) Get(ctx context.Context, sku string) (*InventoryItem, error) {
	if sku == "" {
		return nil, errors.New("sku is required")
	}
	resp, err := c.rest.Get(ctx, inventoryItemPath+"/"+url.PathEscape(sku), &RequestOptions{
		Scopes: inventoryScopes,
	})
	if err != nil {
		return nil, fmt.Errorf("getting inventory item %s: %w", sku, err)
	}

	var item InventoryItem
	if err := resp.Decode(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateOrReplace writes the inventory item for sku.
func (c *InventoryClient) CreateOrReplace(ctx context.Context, sku string, item *InventoryItem) error {
	if sku == "" {
		return errors.New("sku is required")
	}
	body := *item
	body.SKU = ""
	if _, err := c.rest.Put(ctx, inventoryItemPath+"/"+url.PathEscape(sku), &body, &RequestOptions{
		Scopes: inventoryScopes,
	}); err != nil {
		return fmt.Errorf("writing inventory item %s: %w", sku, err)
	}
	return nil
}

// Delete removes the inventory item for sku.
func (c *InventoryClient) Delete(ctx context.Context, sku string) error {
	if sku == "" {
		return errors.New("sku is required")
	}
	if _, err := c.rest.Delete(ctx, inventoryItemPath+"/"+url.PathEscape(sku), &RequestOptions{
		Scopes: inventoryScopes,
	}); err != nil {
		return fmt.Errorf("deleting inventory item %s: %w", sku, err)
	}
	return nil
}
