// Package ebay provides the eBay OAuth token lifecycle and a resilient REST
// client (rate limiting, circuit breaking, retry with backoff, response
// caching) used by every API caller in this module.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	productionAPIURL = "https://api.ebay.com"
	sandboxAPIURL    = "https://api.sandbox.ebay.com"

	defaultMarketplace = "EBAY_US"
	defaultLanguage    = "en-US"
)

// APIBaseURL returns the REST base URL for the environment.
func APIBaseURL(sandbox bool) string {
	if sandbox {
		return sandboxAPIURL
	}
	return productionAPIURL
}

// TokenSource supplies bearer tokens for scope sets.
type TokenSource interface {
	GetToken(ctx context.Context, scopes ScopeSet) (*Token, error)
	Invalidate(ctx context.Context, scopes ScopeSet)
}

// ResponseCache stores successful GET response bodies. Implementations must
// not fail the caller: misses and backend errors both report not found.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Invalidate removes key, or every key with the given prefix when
	// pattern ends in '*'.
	Invalidate(ctx context.Context, pattern string)
}

// RequestOptions are the per-call inputs of RestClient.Request.
type RequestOptions struct {
	Params  url.Values
	Body    any
	Headers http.Header
	// Scopes required by the endpoint; empty means the base api_scope.
	Scopes ScopeSet
	// CacheTTL overrides the client default for this GET. Negative disables
	// caching for the call.
	CacheTTL time.Duration
	NoCache  bool
}

// Response is a successful REST response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Cached     bool
}

// Decode unmarshals the JSON body into v. An empty body is not an error.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
