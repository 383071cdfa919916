package ebay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

type rateFixture struct {
	Count      int64  `json:"count"`
	Limit      int64  `json:"limit"`
	Remaining  int64  `json:"remaining"`
	Reset      string `json:"reset"`
	TimeWindow int64  `json:"timeWindow"`
}

type resourceFixture struct {
	Name  string        `json:"name"`
	Rates []rateFixture `json:"rates"`
}

// rateLimitBody renders an Analytics response with one buy/Browse entry
// holding the given resources.
func rateLimitBody(t *testing.T, resources ...resourceFixture) []byte {
	t.Helper()
	entries := []map[string]any{}
	if len(resources) > 0 {
		entries = append(entries, map[string]any{
			"apiContext": "buy",
			"apiName":    "Browse",
			"apiVersion": "v1",
			"resources":  resources,
		})
	}
	body, err := json.Marshal(map[string]any{"rateLimits": entries})
	require.NoError(t, err)
	return body
}

func dailyRate(count, remaining int64) rateFixture {
	return rateFixture{
		Count:      count,
		Limit:      5000,
		Remaining:  remaining,
		Reset:      "2026-10-15T07:00:00.000Z",
		TimeWindow: 86400,
	}
}

func TestAnalyticsClient_GetBrowseQuota(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		resources []resourceFixture
		raw       string
		wantErr   string
	}{
		{
			name:   "browse resource present",
			status: http.StatusOK,
			resources: []resourceFixture{
				{Name: "buy.browse", Rates: []rateFixture{dailyRate(212, 4788)}},
				{Name: "buy.browse.item.bulk", Rates: []rateFixture{dailyRate(0, 5000)}},
			},
		},
		{
			name:      "only bulk resource",
			status:    http.StatusOK,
			resources: []resourceFixture{{Name: "buy.browse.item.bulk", Rates: []rateFixture{dailyRate(0, 5000)}}},
			wantErr:   `"buy.browse" not found`,
		},
		{
			name:    "no entries",
			status:  http.StatusOK,
			wantErr: `"buy.browse" not found`,
		},
		{
			name:      "resource without rates",
			status:    http.StatusOK,
			resources: []resourceFixture{{Name: "buy.browse"}},
			wantErr:   `"buy.browse" not found`,
		},
		{
			name:   "unparseable reset",
			status: http.StatusOK,
			resources: []resourceFixture{{Name: "buy.browse", Rates: []rateFixture{
				{Count: 1, Limit: 5000, Remaining: 4999, Reset: "tomorrow", TimeWindow: 86400},
			}}},
			wantErr: "parsing reset time",
		},
		{
			name:    "garbage body",
			status:  http.StatusOK,
			raw:     "<html>maintenance</html>",
			wantErr: "parsing analytics response",
		},
		{
			name:    "token rejected",
			status:  http.StatusUnauthorized,
			raw:     `{"errors":[{"errorId":1001,"message":"Invalid access token"}]}`,
			wantErr: "status 401",
		},
		{
			name:    "upstream failure",
			status:  http.StatusInternalServerError,
			wantErr: "status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
				assert.Equal(t, "buy", r.URL.Query().Get("api_context"))
				assert.Equal(t, "browse", r.URL.Query().Get("api_name"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				switch {
				case tt.raw != "":
					_, _ = w.Write([]byte(tt.raw))
				case tt.status == http.StatusOK:
					_, _ = w.Write(rateLimitBody(t, tt.resources...))
				}
			})
			rest, _ := newRestClient(t, srv, ebay.WithRetryPolicy(ebay.RetryPolicy{MaxAttempts: 1}))

			quota, err := ebay.NewAnalyticsClient(rest).GetBrowseQuota(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, ebay.QuotaState{
				APIContext: "buy",
				APIName:    "Browse",
				Resource:   "buy.browse",
				Count:      212,
				Limit:      5000,
				Remaining:  4788,
				ResetAt:    time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC),
				TimeWindow: 24 * time.Hour,
			}, *quota)
		})
	}
}

func TestAnalyticsClient_GetRateLimits(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/developer/analytics/v1_beta/rate_limit/", r.URL.Path)
		assert.NotContains(t, r.URL.Query(), "api_context")
		assert.NotContains(t, r.URL.Query(), "api_name")
		_, _ = w.Write(rateLimitBody(t,
			resourceFixture{Name: "buy.browse", Rates: []rateFixture{dailyRate(10, 4990)}},
			resourceFixture{Name: "buy.browse.item.bulk", Rates: []rateFixture{dailyRate(0, 5000)}},
		))
	})

	rest, _ := newRestClient(t, srv, ebay.WithResponseCache(newMapCache(), time.Minute))
	client := ebay.NewAnalyticsClient(rest)

	quotas, err := client.GetRateLimits(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, quotas, 2)
	assert.Equal(t, "buy.browse", quotas[0].Resource)
	assert.Equal(t, "buy.browse.item.bulk", quotas[1].Resource)
	assert.Equal(t, int64(5000), quotas[1].Remaining)

	// Quota reads bypass the response cache.
	_, err = client.GetRateLimits(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
