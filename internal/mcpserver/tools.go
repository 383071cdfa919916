package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// maxSearchPages bounds multi-page searches from a single tool call.
const maxSearchPages = 10

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types. Fields without
// omitempty are required.

// SearchItemsInput holds parameters for search_items.
type SearchItemsInput struct {
	Query      string `json:"query,omitempty"       jsonschema:"keywords to search for; query or category_id is needed"`
	CategoryID string `json:"category_id,omitempty" jsonschema:"eBay category id to search within"`
	Filter     string `json:"filter,omitempty"      jsonschema:"Browse API filter expression, e.g. price:[10..50],priceCurrency:USD"`
	Sort       string `json:"sort,omitempty"        jsonschema:"sort order: newlyListed, price or -price"`
	Limit      int    `json:"limit,omitempty"       jsonschema:"items per page, 1-200, defaults to 50"`
	Offset     int    `json:"offset,omitempty"      jsonschema:"index of the first item to return"`
	MaxPages   int    `json:"max_pages,omitempty"   jsonschema:"fetch up to this many consecutive pages (1-10), defaults to 1"`
}

// GetItemInput holds parameters for get_item.
type GetItemInput struct {
	ItemID string `json:"item_id" jsonschema:"RESTful item id, e.g. v1|110012345678|0"`
}

// MarketplaceInput selects a marketplace; empty uses the configured one.
type MarketplaceInput struct {
	MarketplaceID string `json:"marketplace_id,omitempty" jsonschema:"eBay marketplace id such as EBAY_US, defaults to the configured marketplace"`
}

// CategorySuggestionsInput holds parameters for get_category_suggestions.
type CategorySuggestionsInput struct {
	Query          string `json:"query"                      jsonschema:"words describing the item"`
	CategoryTreeID string `json:"category_tree_id,omitempty" jsonschema:"category tree id, looked up for the marketplace when empty"`
	MarketplaceID  string `json:"marketplace_id,omitempty"   jsonschema:"marketplace whose default tree is used when category_tree_id is empty"`
}

// PageInput holds pagination parameters.
type PageInput struct {
	Limit  int `json:"limit,omitempty"  jsonschema:"page size, 1-200, defaults to 25"`
	Offset int `json:"offset,omitempty" jsonschema:"index of the first item to return"`
}

// SKUInput identifies an inventory item.
type SKUInput struct {
	SKU string `json:"sku" jsonschema:"seller-defined stock keeping unit"`
}

// InventoryItemInput holds parameters for create_or_replace_inventory_item.
type InventoryItemInput struct {
	SKU         string              `json:"sku"                   jsonschema:"seller-defined stock keeping unit"`
	Condition   string              `json:"condition"             jsonschema:"item condition enum, e.g. NEW or USED_EXCELLENT"`
	Title       string              `json:"title"                 jsonschema:"product title, up to 80 characters"`
	Description string              `json:"description,omitempty" jsonschema:"product description"`
	Brand       string              `json:"brand,omitempty"       jsonschema:"product brand"`
	MPN         string              `json:"mpn,omitempty"         jsonschema:"manufacturer part number"`
	ImageURLs   []string            `json:"image_urls,omitempty"  jsonschema:"HTTPS image URLs"`
	Aspects     map[string][]string `json:"aspects,omitempty"     jsonschema:"item specifics, name to values"`
	Quantity    int                 `json:"quantity,omitempty"    jsonschema:"quantity available to ship"`
	Locale      string              `json:"locale,omitempty"      jsonschema:"content locale, e.g. en_US"`
}

// RateLimitsInput holds parameters for get_rate_limits.
type RateLimitsInput struct {
	APIContext string `json:"api_context,omitempty" jsonschema:"API context to filter on: buy, sell, commerce or developer"`
	APIName    string `json:"api_name,omitempty"    jsonschema:"API name within the context, e.g. browse"`
}

// ConsentScopesInput holds parameters for consent checks and initiation.
type ConsentScopesInput struct {
	Scopes []string `json:"scopes,omitempty" jsonschema:"OAuth scopes, defaults to the seller scope set"`
	User   string   `json:"user,omitempty"   jsonschema:"user the consent belongs to, defaults to the single local user"`
}

// CompleteConsentInput holds parameters for complete_user_consent.
type CompleteConsentInput struct {
	CallbackURL string `json:"callback_url" jsonschema:"the full URL the browser was redirected to after granting consent"`
}

// UserInput names a consent user.
type UserInput struct {
	User string `json:"user,omitempty" jsonschema:"user the consent belongs to, defaults to the single local user"`
}

// NoInput has no parameters.
type NoInput struct{}

// --- Registration ---

func registerBrowseTools(r *registrar, browse *ebay.BrowseClient) {
	add(r, &mcp.Tool{
		Name: "search_items",
		Description: "Search eBay listings with the Browse API. Returns item summaries with price, condition and URL. " +
			"Set max_pages to walk consecutive pages in one call.",
	}, func(ctx context.Context, in SearchItemsInput) (any, error) {
		req := ebay.SearchRequest{
			Query:      strings.TrimSpace(in.Query),
			CategoryID: in.CategoryID,
			Limit:      in.Limit,
			Offset:     in.Offset,
			Sort:       in.Sort,
		}
		if in.Filter != "" {
			req.Filters = map[string]string{"filter": in.Filter}
		}
		if in.MaxPages <= 1 {
			return browse.Search(ctx, req)
		}

		opts := []ebay.PaginatorOption{ebay.WithMaxPages(min(in.MaxPages, maxSearchPages))}
		if in.Limit > 0 {
			opts = append(opts, ebay.WithPageSize(in.Limit))
		}
		return ebay.NewPaginator(browse, opts...).Paginate(ctx, req, 0)
	})

	add(r, &mcp.Tool{
		Name:        "get_item",
		Description: "Get full details of one eBay item by its RESTful item id.",
	}, func(ctx context.Context, in GetItemInput) (any, error) {
		return browse.GetItem(ctx, strings.TrimSpace(in.ItemID))
	})
}

func registerTaxonomyTools(r *registrar, taxonomy *ebay.TaxonomyClient, marketplace string) {
	add(r, &mcp.Tool{
		Name:        "get_default_category_tree_id",
		Description: "Get the default category tree id and version for a marketplace.",
	}, func(ctx context.Context, in MarketplaceInput) (any, error) {
		return taxonomy.GetDefaultCategoryTreeID(ctx, orDefault(in.MarketplaceID, marketplace))
	})

	add(r, &mcp.Tool{
		Name:        "get_category_suggestions",
		Description: "Suggest leaf categories for an item description. Useful before listing or to narrow a search.",
	}, func(ctx context.Context, in CategorySuggestionsInput) (any, error) {
		treeID := in.CategoryTreeID
		if treeID == "" {
			tree, err := taxonomy.GetDefaultCategoryTreeID(ctx, orDefault(in.MarketplaceID, marketplace))
			if err != nil {
				return nil, err
			}
			treeID = tree.CategoryTreeID
		}
		suggestions, err := taxonomy.GetCategorySuggestions(ctx, treeID, strings.TrimSpace(in.Query))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"category_tree_id":    treeID,
			"category_suggestions": suggestions,
		}, nil
	})
}

func registerAccountTools(r *registrar, account *ebay.AccountClient, marketplace string) {
	policies := []struct {
		name string
		kind ebay.PolicyKind
		noun string
	}{
		{name: "get_fulfillment_policies", kind: ebay.FulfillmentPolicy, noun: "fulfillment (shipping)"},
		{name: "get_payment_policies", kind: ebay.PaymentPolicy, noun: "payment"},
		{name: "get_return_policies", kind: ebay.ReturnPolicy, noun: "return"},
	}
	for _, p := range policies {
		add(r, &mcp.Tool{
			Name:        p.name,
			Description: "List the seller's " + p.noun + " business policies for a marketplace. Requires user consent.",
		}, func(ctx context.Context, in MarketplaceInput) (any, error) {
			return account.GetPolicies(ctx, p.kind, orDefault(in.MarketplaceID, marketplace))
		})
	}
}

func registerInventoryTools(r *registrar, inventory *ebay.InventoryClient) {
	add(r, &mcp.Tool{
		Name:        "get_inventory_items",
		Description: "List the seller's inventory items one page at a time. Requires user consent.",
	}, func(ctx context.Context, in PageInput) (any, error) {
		return inventory.List(ctx, in.Limit, in.Offset)
	})

	add(r, &mcp.Tool{
		Name:        "get_inventory_item",
		Description: "Get one inventory item by SKU. Requires user consent.",
	}, func(ctx context.Context, in SKUInput) (any, error) {
		return inventory.Get(ctx, strings.TrimSpace(in.SKU))
	})

	add(r, &mcp.Tool{
		Name: "create_or_replace_inventory_item",
		Description: "Create an inventory item, or replace every field of an existing one, for a SKU. " +
			"Requires user consent.",
	}, func(ctx context.Context, in InventoryItemInput) (any, error) {
		sku := strings.TrimSpace(in.SKU)
		item := &ebay.InventoryItem{
			Locale:    in.Locale,
			Condition: in.Condition,
			Product: &ebay.Product{
				Title:       in.Title,
				Description: in.Description,
				Brand:       in.Brand,
				MPN:         in.MPN,
				ImageURLs:   in.ImageURLs,
				Aspects:     in.Aspects,
			},
		}
		if in.Quantity > 0 {
			item.Availability = &ebay.Availability{}
			item.Availability.ShipToLocationAvailability.Quantity = in.Quantity
		}
		if err := inventory.CreateOrReplace(ctx, sku, item); err != nil {
			return nil, err
		}
		return map[string]string{"sku": sku, "status": "saved"}, nil
	})

	add(r, &mcp.Tool{
		Name:        "delete_inventory_item",
		Description: "Delete the inventory item for a SKU, ending any listing built from it. Requires user consent.",
	}, func(ctx context.Context, in SKUInput) (any, error) {
		sku := strings.TrimSpace(in.SKU)
		if err := inventory.Delete(ctx, sku); err != nil {
			return nil, err
		}
		return map[string]string{"sku": sku, "status": "deleted"}, nil
	})
}

func registerAnalyticsTools(r *registrar, analytics *ebay.AnalyticsClient) {
	add(r, &mcp.Tool{
		Name:        "get_rate_limits",
		Description: "Get the application's call quota per eBay API resource as eBay accounts it.",
	}, func(ctx context.Context, in RateLimitsInput) (any, error) {
		states, err := analytics.GetRateLimits(ctx, in.APIContext, in.APIName)
		if err != nil {
			return nil, err
		}
		if states == nil {
			states = []ebay.QuotaState{}
		}
		return map[string]any{"resources": states}, nil
	})
}

func registerConsentTools(r *registrar, flow *ebay.ConsentFlow) {
	add(r, &mcp.Tool{
		Name:        "check_user_consent_status",
		Description: "Report whether a stored user token grants the seller scopes, and which scopes are missing.",
	}, func(ctx context.Context, in ConsentScopesInput) (any, error) {
		return flow.CheckStatus(withUser(ctx, in.User), ebay.NewScopeSet(in.Scopes...))
	})

	add(r, &mcp.Tool{
		Name: "initiate_user_consent",
		Description: "Start the eBay consent flow. Returns an authorization URL for the user to open; " +
			"after granting access, pass the URL the browser lands on to complete_user_consent.",
	}, func(ctx context.Context, in ConsentScopesInput) (any, error) {
		start, err := flow.Initiate(withUser(ctx, in.User), ebay.NewScopeSet(in.Scopes...))
		if err != nil {
			return nil, err
		}
		out := map[string]any{"consent": start}
		if unknown := ebay.NewScopeSet(in.Scopes...).Unknown(); len(unknown) > 0 {
			out["warning"] = "unrecognized scopes requested: " + unknown.String()
		}
		return out, nil
	})

	add(r, &mcp.Tool{
		Name:        "complete_user_consent",
		Description: "Finish the consent flow with the redirect URL from initiate_user_consent. Each URL works once.",
	}, func(ctx context.Context, in CompleteConsentInput) (any, error) {
		if strings.TrimSpace(in.CallbackURL) == "" {
			return nil, errors.New("callback_url is required")
		}
		tok, err := flow.Complete(ctx, in.CallbackURL)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":             "consented",
			"scopes":             []string(tok.Scopes),
			"expires_at":         tok.ExpiresAt,
			"refresh_expires_at": tok.RefreshExpiresAt,
		}, nil
	})

	add(r, &mcp.Tool{
		Name:        "revoke_user_consent",
		Description: "Delete the stored user token. Seller tools need a new consent afterwards.",
	}, func(ctx context.Context, in UserInput) (any, error) {
		if err := flow.Revoke(withUser(ctx, in.User)); err != nil {
			return nil, err
		}
		return map[string]string{"status": "revoked"}, nil
	})
}

func registerStatusTools(r *registrar, reporter Reporter) {
	add(r, &mcp.Tool{
		Name: "get_api_status",
		Description: "Report the local rate limit budget, circuit breaker states, cached token metadata " +
			"and response cache counters.",
	}, func(_ context.Context, _ NoInput) (any, error) {
		rep := reporter.Report()
		return map[string]any{
			"status":        rep,
			"open_circuits": rep.OpenCircuits(),
		}, nil
	})
}

func withUser(ctx context.Context, user string) context.Context {
	if user == "" {
		return ctx
	}
	return ebay.ContextWithUser(ctx, user)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
