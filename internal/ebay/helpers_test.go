package ebay_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// tokenJSON returns a valid eBay OAuth2 token response as JSON bytes.
func tokenJSON(token string, expiresIn int) []byte {
	return []byte(fmt.Sprintf(
		`{"access_token":%q,"expires_in":%d,"token_type":"Application Access Token"}`,
		token, expiresIn,
	))
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep advances the clock instead of blocking.
func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

// staticTokens is a TokenSource that always hands out the same token.
type staticTokens struct {
	token       string
	invalidated atomic.Int32
	err         error
}

func (s *staticTokens) GetToken(_ context.Context, scopes ebay.ScopeSet) (*ebay.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ebay.Token{
		AccessToken: s.token,
		Type:        ebay.TokenTypeApp,
		Scopes:      scopes,
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (s *staticTokens) Invalidate(context.Context, ebay.ScopeSet) {
	s.invalidated.Add(1)
}

// recordSleeps collects requested delays without waiting.
type recordSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordSleeps) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordSleeps) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// newRestClient points a RestClient with a static token and instant retries
// at srv.
func newRestClient(
	t *testing.T,
	srv *httptest.Server,
	opts ...ebay.RestOption,
) (*ebay.RestClient, *recordSleeps) {
	t.Helper()
	sleeps := &recordSleeps{}
	base := []ebay.RestOption{
		ebay.WithBaseURL(srv.URL),
		ebay.WithSleepFunc(sleeps.Sleep),
	}
	return ebay.NewRestClient(&staticTokens{token: "test-token"}, append(base, opts...)...), sleeps
}

// countingServer counts requests and delegates to h.
func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}
