package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/status"
	"github.com/donaldgifford/ebay-mcp/internal/store"
)

// Status returns the server's rate limit, circuit, token and cache status.
func (c *Client) Status(ctx context.Context) (*status.Report, error) {
	var r status.Report
	if err := c.get(ctx, "/api/v1/status", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ResetCircuits closes every circuit and returns the keys that were not closed.
func (c *Client) ResetCircuits(ctx context.Context) ([]string, error) {
	var out struct {
		Reset []string `json:"reset"`
	}
	if err := c.post(ctx, "/api/v1/circuits/reset", nil, &out); err != nil {
		return nil, err
	}
	return out.Reset, nil
}

// ConsentStatus reports whether user consent is in place for user.
func (c *Client) ConsentStatus(ctx context.Context, user string) (*ebay.ConsentStatus, error) {
	var st ebay.ConsentStatus
	if err := c.get(ctx, "/api/v1/consent"+userQuery(user), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// InitiateConsent starts a consent on the server and returns the URL to open.
func (c *Client) InitiateConsent(ctx context.Context, user string, scopes []string) (*ebay.ConsentStart, error) {
	body := map[string]any{}
	if len(scopes) > 0 {
		body["scopes"] = scopes
	}
	var start ebay.ConsentStart
	if err := c.post(ctx, "/api/v1/consent"+userQuery(user), body, &start); err != nil {
		return nil, err
	}
	return &start, nil
}

// CompleteConsentResult summarizes the user token issued by a completed consent.
type CompleteConsentResult struct {
	Scopes           []string `json:"scopes"`
	ExpiresAt        string   `json:"expires_at"`
	RefreshExpiresAt string   `json:"refresh_expires_at,omitempty"`
}

// CompleteConsent hands a pasted redirect URL to the server for exchange.
func (c *Client) CompleteConsent(ctx context.Context, callbackURL string) (*CompleteConsentResult, error) {
	var out CompleteConsentResult
	body := map[string]string{"callback_url": callbackURL}
	if err := c.post(ctx, "/api/v1/consent/complete", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeConsent deletes the stored user token for user.
func (c *Client) RevokeConsent(ctx context.Context, user string) error {
	return c.del(ctx, "/api/v1/consent"+userQuery(user), nil)
}

// CacheListing is one page of shared cache rows.
type CacheListing struct {
	Entries []store.CacheEntryInfo `json:"entries"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// ListCache lists shared cache rows matching q.
func (c *Client) ListCache(ctx context.Context, q *store.CacheQuery) (*CacheListing, error) {
	v := url.Values{}
	if q != nil {
		if q.Prefix != "" {
			v.Set("prefix", q.Prefix)
		}
		if q.IncludeExpired {
			v.Set("include_expired", "true")
		}
		if q.Limit > 0 {
			v.Set("limit", strconv.Itoa(q.Limit))
		}
		if q.Offset > 0 {
			v.Set("offset", strconv.Itoa(q.Offset))
		}
		if q.OrderBy != "" {
			v.Set("order_by", q.OrderBy)
		}
	}

	path := "/api/v1/cache"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}

	var out CacheListing
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateCache removes a key, or a prefix ending in *, from both tiers
// and returns the number of entries removed.
func (c *Client) InvalidateCache(ctx context.Context, pattern string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/v1/cache?" + url.Values{"pattern": {pattern}}.Encode()
	if err := c.del(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func userQuery(user string) string {
	if user == "" {
		return ""
	}
	return "?" + url.Values{"user": {user}}.Encode()
}
