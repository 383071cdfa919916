package ebay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

// Defaults for RestClient.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultCacheTTL       = 5 * time.Minute
)

// RestClient executes eBay REST calls. Every attempt acquires a rate-limit
// permit, passes the endpoint's circuit breaker, and obtains a token before
// the HTTP call is made; failures are classified and retried per the
// RetryPolicy.
type RestClient struct {
	baseURL     string
	marketplace string
	language    string
	tokens      TokenSource
	client      *http.Client
	limiter     *RateLimiter
	breakers    *CircuitBreakers
	policy      RetryPolicy
	retryable   map[int]struct{}
	cache       ResponseCache
	cacheTTL    time.Duration
	sleep       func(context.Context, time.Duration) error
	logger      *slog.Logger
}

// RestOption configures the RestClient.
type RestOption func(*RestClient)

// WithBaseURL overrides the REST base URL.
func WithBaseURL(u string) RestOption {
	return func(c *RestClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMarketplace overrides the default marketplace.
func WithMarketplace(m string) RestOption {
	return func(c *RestClient) {
		c.marketplace = m
	}
}

// WithRestHTTPClient overrides the default HTTP client.
func WithRestHTTPClient(hc *http.Client) RestOption {
	return func(c *RestClient) {
		c.client = hc
	}
}

// WithRateLimiter injects a rate limiter. Every attempt goes through
// Acquire first.
func WithRateLimiter(r *RateLimiter) RestOption {
	return func(c *RestClient) {
		c.limiter = r
	}
}

// WithCircuitBreakers injects the per-endpoint circuit breakers.
func WithCircuitBreakers(b *CircuitBreakers) RestOption {
	return func(c *RestClient) {
		c.breakers = b
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) RestOption {
	return func(c *RestClient) {
		c.policy = p
	}
}

// WithResponseCache enables caching of GET responses with the given default TTL.
func WithResponseCache(rc ResponseCache, ttl time.Duration) RestOption {
	return func(c *RestClient) {
		c.cache = rc
		c.cacheTTL = ttl
	}
}

// WithSleepFunc overrides how the client waits between attempts.
func WithSleepFunc(f func(context.Context, time.Duration) error) RestOption {
	return func(c *RestClient) {
		c.sleep = f
	}
}

// WithRestLogger sets the logger.
func WithRestLogger(l *slog.Logger) RestOption {
	return func(c *RestClient) {
		c.logger = l
	}
}

// NewRestClient creates a REST client that authenticates through tokens.
func NewRestClient(tokens TokenSource, opts ...RestOption) *RestClient {
	c := &RestClient{
		baseURL:     productionAPIURL,
		marketplace: defaultMarketplace,
		language:    defaultLanguage,
		tokens:      tokens,
		client:      &http.Client{Timeout: DefaultRequestTimeout},
		policy:      DefaultRetryPolicy(),
		cacheTTL:    DefaultCacheTTL,
		sleep:       sleepContext,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		c.breakers = NewCircuitBreakers(DefaultFailureThreshold, DefaultRecoveryTimeout)
	}
	c.retryable = c.policy.retryableIDs()
	return c
}

// Breakers returns the client's circuit breakers.
func (c *RestClient) Breakers() *CircuitBreakers {
	return c.breakers
}

// RateLimiter returns the client's rate limiter, or nil.
func (c *RestClient) RateLimiter() *RateLimiter {
	return c.limiter
}

// Get issues a GET request.
func (c *RestClient) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, opts)
}

// Post issues a POST request with a JSON body.
func (c *RestClient) Post(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, withBody(opts, body))
}

// Put issues a PUT request with a JSON body.
func (c *RestClient) Put(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, withBody(opts, body))
}

// Delete issues a DELETE request.
func (c *RestClient) Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, opts)
}

func withBody(opts *RequestOptions, body any) *RequestOptions {
	var o RequestOptions
	if opts != nil {
		o = *opts
	}
	o.Body = body
	return &o
}

// Request executes method on path. Non-2xx outcomes are returned as
// *APIError; local short-circuits as *RateLimitError, *CircuitOpenError,
// *ConsentRequiredError or *ConfigurationError.
func (c *RestClient) Request(
	ctx context.Context,
	method, path string,
	opts *RequestOptions,
) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = NewScopeSet(ScopeAPI)
	}
	endpoint := EndpointKey(path)

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	ttl := c.cacheTTL
	if opts.CacheTTL != 0 {
		ttl = opts.CacheTTL
	}
	cacheable := method == http.MethodGet && c.cache != nil && !opts.NoCache && ttl > 0

	var key string
	if cacheable {
		key = c.cacheKey(ctx, endpoint, path, opts, scopes)
		if cached, ok := c.cache.Get(ctx, key); ok {
			return &Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: cached, Cached: true}, nil
		}
	}

	resp, err := c.execute(ctx, method, path, endpoint, body, opts, scopes)
	if err != nil {
		metrics.EbayAPIErrorsTotal.WithLabelValues(errorLabel(err)).Inc()
		return nil, err
	}

	if cacheable {
		c.cache.Set(ctx, key, resp.Body, ttl)
	}
	if method != http.MethodGet && c.cache != nil {
		c.cache.Invalidate(ctx, CacheFamilyPrefix(endpoint)+"*")
	}
	return resp, nil
}

func (c *RestClient) execute(
	ctx context.Context,
	method, path, endpoint string,
	body []byte,
	opts *RequestOptions,
	scopes ScopeSet,
) (*Response, error) {
	var (
		failures    int
		rateLimited int
		authRetried bool
		lastErr     *APIError
	)

	for {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		permit, err := c.breakers.Allow(endpoint)
		if err != nil {
			// The breaker opened on this call's own retries; the caller
			// gets the eBay error that caused it.
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		tok, err := c.tokens.GetToken(ctx, scopes)
		if err != nil {
			permit.Release()
			if !errors.Is(err, ErrTransientAuth) {
				return nil, err
			}
			failures++
			if failures >= c.policy.MaxAttempts {
				return nil, err
			}
			if err := c.wait(ctx, endpoint, failures, c.policy.MaxAttempts,
				c.policy.Backoff(failures-1), "AUTH", 0); err != nil {
				return nil, err
			}
			continue
		}

		resp, apiErr := c.do(ctx, method, path, endpoint, body, opts, tok)
		if apiErr == nil {
			permit.Success()
			return resp, nil
		}
		lastErr = apiErr
		if ctx.Err() != nil {
			permit.Release()
			return nil, fmt.Errorf("eBay request canceled: %w", ctx.Err())
		}

		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			permit.Release()
			if authRetried {
				return nil, apiErr
			}
			authRetried = true
			c.logger.Warn("eBay rejected token, refreshing",
				"endpoint", endpoint,
				"status", apiErr.StatusCode,
			)
			c.tokens.Invalidate(ctx, scopes)

		case apiErr.StatusCode == http.StatusTooManyRequests:
			permit.Release()
			rateLimited++
			if rateLimited >= c.policy.RateLimitMaxAttempts {
				return nil, apiErr
			}
			delay := c.policy.RateLimitBackoff(rateLimited-1, apiErr.RetryAfter)
			if err := c.wait(ctx, endpoint, rateLimited, c.policy.RateLimitMaxAttempts,
				delay, "RATE_LIMIT", apiErr.StatusCode); err != nil {
				return nil, err
			}

		case apiErr.StatusCode == 0 || apiErr.StatusCode >= 500:
			permit.Failure()
			failures++
			if failures >= c.policy.MaxAttempts {
				return nil, apiErr
			}
			if err := c.wait(ctx, endpoint, failures, c.policy.MaxAttempts,
				c.policy.Backoff(failures-1), string(apiErr.Category), apiErr.StatusCode); err != nil {
				return nil, err
			}

		default:
			permit.Release()
			if !apiErr.Retryable {
				return nil, apiErr
			}
			failures++
			if failures >= c.policy.MaxAttempts {
				return nil, apiErr
			}
			if err := c.wait(ctx, endpoint, failures, c.policy.MaxAttempts,
				c.policy.Backoff(failures-1), string(apiErr.Category), apiErr.StatusCode); err != nil {
				return nil, err
			}
		}
	}
}

func (c *RestClient) wait(
	ctx context.Context,
	endpoint string,
	attempt, maxAttempts int,
	delay time.Duration,
	category string,
	status int,
) error {
	metrics.EbayAPIRetriesTotal.WithLabelValues(endpoint, category).Inc()
	c.logger.Warn("retrying eBay request",
		"endpoint", endpoint,
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"delay", delay,
		"category", category,
		"status", status,
	)
	if err := c.sleep(ctx, delay); err != nil {
		return fmt.Errorf("waiting to retry: %w", err)
	}
	return nil
}

// do performs a single HTTP attempt. Any failure comes back as an *APIError.
func (c *RestClient) do(
	ctx context.Context,
	method, path, endpoint string,
	body []byte,
	opts *RequestOptions,
	tok *Token,
) (*Response, *APIError) {
	u := c.baseURL + path
	if len(opts.Params) > 0 {
		u += "?" + opts.Params.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &APIError{
			Category: CategoryRequest,
			Message:  fmt.Sprintf("creating HTTP request: %v", err),
			Err:      err,
		}
	}

	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplace)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Language", c.language)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header[k] = v
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.EbayAPICallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EbayAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, NetworkError(fmt.Errorf("executing %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.EbayAPICallsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	if err != nil {
		return nil, NetworkError(fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseError(resp.StatusCode, resp.Header, respBody, c.retryable)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return data, nil
	}
}

// EndpointKey groups a request path into the logical endpoint used for
// circuit breaking and cache invalidation: the first four path segments,
// e.g. "sell/inventory/v1/inventory_item".
func EndpointKey(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segs) > 4 {
		segs = segs[:4]
	}
	return strings.Join(segs, "/")
}

// CacheFamilyPrefix is the cache key prefix shared by every GET of an
// endpoint family.
func CacheFamilyPrefix(endpoint string) string {
	return "rest:" + endpoint + ":"
}

func (c *RestClient) cacheKey(
	ctx context.Context,
	endpoint, path string,
	opts *RequestOptions,
	scopes ScopeSet,
) string {
	h := sha256.New()
	for _, part := range []string{path, opts.Params.Encode(), c.marketplace, scopes.Key()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	if scopes.RequiresUserConsent() {
		h.Write([]byte(UserFromContext(ctx)))
	}
	return CacheFamilyPrefix(endpoint) + hex.EncodeToString(h.Sum(nil))[:32]
}

func errorLabel(err error) string {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return string(apiErr.Category)
	case errors.Is(err, ErrCircuitOpen):
		return "CIRCUIT_OPEN"
	case errors.Is(err, ErrRateLimitExceeded):
		return "RATE_LIMIT"
	case errors.Is(err, ErrConsentRequired):
		return "CONSENT_REQUIRED"
	case errors.Is(err, ErrConfiguration):
		return "CONFIGURATION"
	default:
		return "OTHER"
	}
}
