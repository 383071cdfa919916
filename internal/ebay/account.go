package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

const accountBase = "/sell/account/v1"

// PolicyKind selects one of the Account API business policy collections.
type PolicyKind string

// Business policy kinds.
const (
	FulfillmentPolicy PolicyKind = "fulfillment_policy"
	PaymentPolicy     PolicyKind = "payment_policy"
	ReturnPolicy      PolicyKind = "return_policy"
)

var accountScopes = NewScopeSet(ScopeSellAccount)

// AccountClient calls the Account API with the user's token.
type AccountClient struct {
	rest     *RestClient
	cacheTTL time.Duration
}

// NewAccountClient creates an Account API client.
func NewAccountClient(rest *RestClient, cacheTTL time.Duration) *AccountClient {
	return &AccountClient{rest: rest, cacheTTL: cacheTTL}
}

// GetPolicies returns the seller's policies of kind for marketplaceID as
// eBay's JSON document.
func (c *AccountClient) GetPolicies(
	ctx context.Context,
	kind PolicyKind,
	marketplaceID string,
) (json.RawMessage, error) {
	switch kind {
	case FulfillmentPolicy, PaymentPolicy, ReturnPolicy:
	default:
		return nil, fmt.Errorf("unknown policy kind %q", kind)
	}
	if marketplaceID == "" {
		marketplaceID = defaultMarketplace
	}

	resp, err := c.rest.Get(ctx, accountBase+"/"+string(kind), &RequestOptions{
		Params:   url.Values{"marketplace_id": {marketplaceID}},
		Scopes:   accountScopes,
		CacheTTL: c.cacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", kind, err)
	}
	return json.RawMessage(resp.Body), nil
}
