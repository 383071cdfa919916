package ebay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// mapCache is an in-memory ResponseCache.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

func (m *mapCache) Invalidate(_ context.Context, pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, pattern)
	prefix, isPrefix := strings.CutSuffix(pattern, "*")
	for k := range m.entries {
		if k == pattern || (isPrefix && strings.HasPrefix(k, prefix)) {
			delete(m.entries, k)
		}
	}
}

func (m *mapCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body)) //nolint:errcheck // test helper
}

func TestRestClient_RetryBehavior(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    func(call int32, w http.ResponseWriter)
		wantCalls  int32
		wantErr    error
		wantSleeps int
		minSleep   time.Duration
	}{
		{
			name: "application error retried to the attempt limit",
			handler: func(_ int32, w http.ResponseWriter) {
				writeError(w, http.StatusServiceUnavailable,
					`{"errors":[{"errorId":10001,"category":"APPLICATION","message":"Service unavailable"}]}`)
			},
			wantCalls:  3,
			wantErr:    ebay.ErrApplication,
			wantSleeps: 2,
		},
		{
			name: "business error is not retried",
			handler: func(_ int32, w http.ResponseWriter) {
				writeError(w, http.StatusBadRequest,
					`{"errors":[{"errorId":25002,"category":"BUSINESS","message":"Invalid price"}]}`)
			},
			wantCalls: 1,
			wantErr:   ebay.ErrBusiness,
		},
		{
			name: "unknown request error is not retried",
			handler: func(_ int32, w http.ResponseWriter) {
				writeError(w, http.StatusNotFound,
					`{"errors":[{"errorId":11001,"category":"REQUEST","message":"Item not found"}]}`)
			},
			wantCalls: 1,
			wantErr:   ebay.ErrRequest,
		},
		{
			name: "known transient request error is retried",
			handler: func(call int32, w http.ResponseWriter) {
				if call == 1 {
					writeError(w, http.StatusBadRequest,
						`{"errors":[{"errorId":25001,"category":"REQUEST","message":"A system error has occurred."}]}`)
					return
				}
				_, _ = w.Write([]byte(`{"ok":true}`)) //nolint:errcheck // test handler
			},
			wantCalls:  2,
			wantSleeps: 1,
		},
		{
			name: "429 honors retry-after and retries once",
			handler: func(call int32, w http.ResponseWriter) {
				if call == 1 {
					w.Header().Set("Retry-After", "2")
					writeError(w, http.StatusTooManyRequests,
						`{"errors":[{"errorId":2001,"category":"REQUEST","message":"Too many requests"}]}`)
					return
				}
				_, _ = w.Write([]byte(`{"ok":true}`)) //nolint:errcheck // test handler
			},
			wantCalls:  2,
			wantSleeps: 1,
			minSleep:   2 * time.Second,
		},
		{
			name: "429 exhausts its own budget",
			handler: func(_ int32, w http.ResponseWriter) {
				writeError(w, http.StatusTooManyRequests, `{"errors":[{"errorId":2001,"message":"slow"}]}`)
			},
			wantCalls:  5,
			wantErr:    ebay.ErrRateLimitExceeded,
			wantSleeps: 4,
		},
		{
			name: "recovers after transient 500",
			handler: func(call int32, w http.ResponseWriter) {
				if call < 3 {
					writeError(w, http.StatusInternalServerError, `{"errors":[{"message":"boom"}]}`)
					return
				}
				_, _ = w.Write([]byte(`{"ok":true}`)) //nolint:errcheck // test handler
			},
			wantCalls:  3,
			wantSleeps: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			var n int32
			srv, calls := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
				mu.Lock()
				n++
				call := n
				mu.Unlock()
				tt.handler(call, w)
			})

			client, sleeps := newRestClient(t, srv)
			resp, err := client.Get(context.Background(), "/buy/browse/v1/item/123", &ebay.RequestOptions{NoCache: true})

			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Len(t, sleeps.Delays(), tt.wantSleeps)
			if tt.minSleep > 0 {
				require.NotEmpty(t, sleeps.Delays())
				assert.GreaterOrEqual(t, sleeps.Delays()[0], tt.minSleep)
			}

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
		})
	}
}

func TestRestClient_UnauthorizedRefreshesOnce(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusUnauthorized,
			`{"errors":[{"errorId":1001,"category":"REQUEST","message":"Invalid access token"}]}`)
	})

	tokens := &staticTokens{token: "stale"}
	sleeps := &recordSleeps{}
	client := ebay.NewRestClient(tokens, ebay.WithBaseURL(srv.URL), ebay.WithSleepFunc(sleeps.Sleep))

	_, err := client.Get(context.Background(), "/buy/browse/v1/item/1", nil)
	require.ErrorIs(t, err, ebay.ErrAuthentication)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.invalidated.Load())
	assert.Empty(t, sleeps.Delays())
	assert.Equal(t, ebay.CircuitClosed, client.Breakers().State("buy/browse/v1/item").State)
	assert.Equal(t, 0, client.Breakers().State("buy/browse/v1/item").FailureCount)
}

func TestRestClient_UnauthorizedThenSuccess(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		first := len(seen) == 1
		mu.Unlock()
		if first {
			writeError(w, http.StatusUnauthorized, `{"errors":[{"errorId":1001,"message":"expired"}]}`)
			return
		}
		_, _ = w.Write([]byte(`{}`)) //nolint:errcheck // test handler
	})

	tokens := &staticTokens{token: "tok"}
	client := ebay.NewRestClient(tokens, ebay.WithBaseURL(srv.URL))

	_, err := client.Get(context.Background(), "/buy/browse/v1/item/1", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestRestClient_CircuitOpensWithoutNetworkCalls(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusBadGateway, ``)
	})

	clock := newFakeClock()
	breakers := ebay.NewCircuitBreakers(2, time.Minute, ebay.WithCircuitNowFunc(clock.Now))
	client, _ := newRestClient(t, srv, ebay.WithCircuitBreakers(breakers))

	// The call whose own retries trip the breaker reports the eBay failure.
	_, err := client.Get(context.Background(), "/sell/inventory/v1/inventory_item/A", nil)
	require.ErrorIs(t, err, ebay.ErrApplication)
	assert.NotErrorIs(t, err, ebay.ErrCircuitOpen)
	var apiErr *ebay.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, ebay.CircuitOpen, breakers.State("sell/inventory/v1/inventory_item").State)

	// While open, neither a different path in the same family nor a retry
	// touches the network.
	_, err = client.Get(context.Background(), "/sell/inventory/v1/inventory_item/B", nil)
	require.ErrorIs(t, err, ebay.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	failure := ebay.Classify(err)
	assert.Equal(t, ebay.KindCircuitOpen, failure.Kind)
	assert.Equal(t, "sell/inventory/v1/inventory_item", failure.Endpoint)
	assert.Equal(t, clock.Now().Add(time.Minute).Unix(), failure.RetryAtEpoch)
}

func TestRestClient_NetworkErrorIsApplication(t *testing.T) {
	t.Parallel()

	srv, _ := countingServer(t, func(http.ResponseWriter, *http.Request) {})
	srv.Close()

	client, sleeps := newRestClient(t, srv)
	_, err := client.Get(context.Background(), "/buy/browse/v1/item/1", nil)
	require.ErrorIs(t, err, ebay.ErrApplication)

	var apiErr *ebay.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable)
	assert.Len(t, sleeps.Delays(), 2)
}

func TestRestClient_TokenErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantSleeps int
		wantIs     error
	}{
		{
			name:   "consent required is returned immediately",
			err:    &ebay.ConsentRequiredError{Scopes: ebay.UserConsentScopes},
			wantIs: ebay.ErrConsentRequired,
		},
		{
			name:   "configuration error is returned immediately",
			err:    &ebay.ConfigurationError{Message: "no credentials"},
			wantIs: ebay.ErrConfiguration,
		},
		{
			name:       "transient auth error is retried",
			err:        &ebay.TransientAuthError{Err: errors.New("timeout")},
			wantSleeps: 2,
			wantIs:     ebay.ErrTransientAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, calls := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{}`)) //nolint:errcheck // test handler
			})
			sleeps := &recordSleeps{}
			client := ebay.NewRestClient(&staticTokens{err: tt.err},
				ebay.WithBaseURL(srv.URL),
				ebay.WithSleepFunc(sleeps.Sleep),
			)
			_, err := client.Get(context.Background(), "/sell/account/v1/fulfillment_policy", nil)
			require.ErrorIs(t, err, tt.wantIs)
			assert.Len(t, sleeps.Delays(), tt.wantSleeps)
			assert.Equal(t, int32(0), calls.Load())
		})
	}
}

func TestRestClient_Headers(t *testing.T) {
	t.Parallel()

	var got *http.Request
	var gotBody []byte
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body) //nolint:errcheck // test handler
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := newRestClient(t, srv, ebay.WithMarketplace("EBAY_GB"))
	_, err := client.Put(context.Background(), "/sell/inventory/v1/inventory_item/SKU-1",
		map[string]string{"condition": "NEW"},
		&ebay.RequestOptions{
			Params:  url.Values{"mode": {"full"}},
			Headers: http.Header{"X-Custom": {"yes"}},
		})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/sell/inventory/v1/inventory_item/SKU-1", got.URL.Path)
	assert.Equal(t, "full", got.URL.Query().Get("mode"))
	assert.Equal(t, "Bearer test-token", got.Header.Get("Authorization"))
	assert.Equal(t, "EBAY_GB", got.Header.Get("X-EBAY-C-MARKETPLACE-ID"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "en-US", got.Header.Get("Content-Language"))
	assert.Equal(t, "yes", got.Header.Get("X-Custom"))
	assert.JSONEq(t, `{"condition":"NEW"}`, string(gotBody))
}

func TestRestClient_CachesGetAndInvalidatesOnWrite(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]string{"sku": "A"}) //nolint:errcheck // test handler
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	rc := newMapCache()
	client, _ := newRestClient(t, srv, ebay.WithResponseCache(rc, time.Minute))
	ctx := context.Background()
	path := "/sell/inventory/v1/inventory_item/A"

	first, err := client.Get(ctx, path, nil)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := client.Get(ctx, path, nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(1), calls.Load())

	// NoCache bypasses.
	_, err = client.Get(ctx, path, &ebay.RequestOptions{NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// Different params are different keys.
	_, err = client.Get(ctx, path, &ebay.RequestOptions{Params: url.Values{"x": {"1"}}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, rc.Len())

	_, err = client.Put(ctx, path, map[string]string{"condition": "USED"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, []string{ebay.CacheFamilyPrefix("sell/inventory/v1/inventory_item") + "*"}, rc.invalidated)

	third, err := client.Get(ctx, path, nil)
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestRestClient_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, `{"errors":[{"errorId":11001,"category":"REQUEST","message":"not found"}]}`)
	})

	rc := newMapCache()
	client, _ := newRestClient(t, srv, ebay.WithResponseCache(rc, time.Minute))

	for range 2 {
		_, err := client.Get(context.Background(), "/buy/browse/v1/item/x", nil)
		require.ErrorIs(t, err, ebay.ErrRequest)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, rc.Len())
}

func TestRestClient_ContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})
	t.Cleanup(func() { close(release) })

	client, sleeps := newRestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/buy/browse/v1/item/1", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, sleeps.Delays())
	assert.Equal(t, 0, client.Breakers().State("buy/browse/v1/item").FailureCount)
}

func TestRestClient_RateLimiterEveryAttempt(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusServiceUnavailable, ``)
	})

	limiter := ebay.NewRateLimiter(0, 0, 2, ebay.WithFailFast(true))
	client, _ := newRestClient(t, srv, ebay.WithRateLimiter(limiter))

	_, err := client.Get(context.Background(), "/buy/browse/v1/item/1", nil)
	require.ErrorIs(t, err, ebay.ErrDailyLimitReached)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(0), limiter.Remaining())
}

func TestEndpointKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/buy/browse/v1/item_summary/search", want: "buy/browse/v1/item_summary"},
		{path: "/sell/inventory/v1/inventory_item/SKU-1", want: "sell/inventory/v1/inventory_item"},
		{path: "/commerce/taxonomy/v1/get_default_category_tree_id?marketplace_id=EBAY_US", want: "commerce/taxonomy/v1/get_default_category_tree_id"},
		{path: "/a/b", want: "a/b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ebay.EndpointKey(tt.path), tt.path)
	}
}
