package ebay

import (
	"slices"
	"strings"
)

// OAuth scopes used by the eBay REST APIs this server calls.
const (
	ScopeAPI                    = "https://api.ebay.com/oauth/api_scope"
	ScopeBuyMarketing           = "https://api.ebay.com/oauth/api_scope/buy.marketing"
	ScopeBuyMarketplaceInsights = "https://api.ebay.com/oauth/api_scope/buy.marketplace.insights"
	ScopeBuyItemFeed            = "https://api.ebay.com/oauth/api_scope/buy.item.feed"
	ScopeBuyOffer               = "https://api.ebay.com/oauth/api_scope/buy.offer"
	ScopeBuyOrder               = "https://api.ebay.com/oauth/api_scope/buy.order"

	ScopeSellInventory         = "https://api.ebay.com/oauth/api_scope/sell.inventory"
	ScopeSellInventoryReadonly = "https://api.ebay.com/oauth/api_scope/sell.inventory.readonly"
	ScopeSellMarketing         = "https://api.ebay.com/oauth/api_scope/sell.marketing"
	ScopeSellAccount           = "https://api.ebay.com/oauth/api_scope/sell.account"
	ScopeSellAccountReadonly   = "https://api.ebay.com/oauth/api_scope/sell.account.readonly"
	ScopeSellFulfillment       = "https://api.ebay.com/oauth/api_scope/sell.fulfillment"
	ScopeSellAnalytics         = "https://api.ebay.com/oauth/api_scope/sell.analytics.readonly"
	ScopeSellFinances          = "https://api.ebay.com/oauth/api_scope/sell.finances"

	ScopeCommerceCatalog  = "https://api.ebay.com/oauth/api_scope/commerce.catalog.readonly"
	ScopeCommerceIdentity = "https://api.ebay.com/oauth/api_scope/commerce.identity.readonly"
)

// appScopes are grantable through the client credentials flow. Every other
// scope needs a user-consent token.
var appScopes = map[string]struct{}{
	ScopeAPI:                    {},
	ScopeBuyMarketing:           {},
	ScopeBuyMarketplaceInsights: {},
	ScopeBuyItemFeed:            {},
}

var scopeDescriptions = map[string]string{
	ScopeAPI:                    "Basic API access (browse, taxonomy, analytics)",
	ScopeBuyMarketing:           "Access marketing and promotional data",
	ScopeBuyMarketplaceInsights: "Access marketplace insights and sales history",
	ScopeBuyItemFeed:            "Access item feed files",
	ScopeBuyOffer:               "Make offers on eBay items",
	ScopeBuyOrder:               "Manage purchase orders",
	ScopeSellInventory:          "Manage inventory items and offers",
	ScopeSellInventoryReadonly:  "Read-only access to inventory items",
	ScopeSellMarketing:          "Manage marketing campaigns and promotions",
	ScopeSellAccount:            "Manage seller account settings and business policies",
	ScopeSellAccountReadonly:    "Read-only access to seller account data",
	ScopeSellFulfillment:        "Manage order fulfillment and shipping",
	ScopeSellAnalytics:          "Access seller analytics and performance data",
	ScopeSellFinances:           "Access financial data and reports",
	ScopeCommerceCatalog:        "Access product catalog data",
	ScopeCommerceIdentity:       "Access identity and profile data",
}

// UserConsentScopes is the scope set requested when a user runs the consent flow.
var UserConsentScopes = NewScopeSet(
	ScopeAPI,
	ScopeSellAccount,
	ScopeSellInventory,
	ScopeSellMarketing,
	ScopeSellFulfillment,
)

// ScopeSet is a sorted, de-duplicated set of OAuth scopes. The zero value is
// an empty set.
type ScopeSet []string

// NewScopeSet normalizes the given scopes. Blank entries are dropped and
// space-separated lists are split.
func NewScopeSet(scopes ...string) ScopeSet {
	var out ScopeSet
	for _, s := range scopes {
		out = append(out, strings.Fields(s)...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Key returns the canonical space-separated form, used as the cache key and
// as the token endpoint's scope parameter.
func (s ScopeSet) Key() string {
	return strings.Join(s, " ")
}

func (s ScopeSet) String() string {
	return s.Key()
}

// Has reports whether scope is in the set.
func (s ScopeSet) Has(scope string) bool {
	_, found := slices.BinarySearch(s, scope)
	return found
}

// Contains reports whether s is a superset of other.
func (s ScopeSet) Contains(other ScopeSet) bool {
	for _, scope := range other {
		if !s.Has(scope) {
			return false
		}
	}
	return true
}

// Missing returns the scopes of other that are absent from s.
func (s ScopeSet) Missing(other ScopeSet) ScopeSet {
	var out ScopeSet
	for _, scope := range other {
		if !s.Has(scope) {
			out = append(out, scope)
		}
	}
	return out
}

// RequiresUserConsent reports whether any scope in the set can only be
// granted through the authorization code flow.
func (s ScopeSet) RequiresUserConsent() bool {
	for _, scope := range s {
		if _, ok := appScopes[scope]; !ok {
			return true
		}
	}
	return false
}

// Unknown returns scopes that are not in the catalogue above.
func (s ScopeSet) Unknown() ScopeSet {
	var out ScopeSet
	for _, scope := range s {
		if _, ok := scopeDescriptions[scope]; !ok {
			out = append(out, scope)
		}
	}
	return out
}

// DescribeScope returns a human-readable description of an OAuth scope.
func DescribeScope(scope string) string {
	if d, ok := scopeDescriptions[scope]; ok {
		return d
	}
	return "Unknown scope"
}
