package ebay

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

const (
	analyticsRateLimitPath = "/developer/analytics/v1_beta/rate_limit/"

	// browseResourceName is the Analytics API resource name for Browse API
	// search calls (item_summary/search).
	browseResourceName = "buy.browse"
)

// rateLimitResponse is the top-level Analytics API response.
type rateLimitResponse struct {
	RateLimits []rateLimitEntry `json:"rateLimits"`
}

// rateLimitEntry represents one API context in the Analytics response.
type rateLimitEntry struct {
	APIContext string     `json:"apiContext"`
	APIName    string     `json:"apiName"`
	APIVersion string     `json:"apiVersion"`
	Resources  []resource `json:"resources"`
}

// resource represents one API resource with its rate limits.
type resource struct {
	Name  string      `json:"name"`
	Rates []quotaRate `json:"rates"`
}

// quotaRate holds the quota state for a single resource.
type quotaRate struct {
	Count      int64  `json:"count"`
	Limit      int64  `json:"limit"`
	Remaining  int64  `json:"remaining"`
	Reset      string `json:"reset"`
	TimeWindow int64  `json:"timeWindow"`
}

// QuotaState holds the parsed rate limit state for a single eBay API resource.
type QuotaState struct {
	APIContext string        `json:"api_context"`
	APIName    string        `json:"api_name"`
	Resource   string        `json:"resource"`
	Count      int64         `json:"count"`
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	TimeWindow time.Duration `json:"time_window"`
}

// AnalyticsClient queries the eBay Developer Analytics API for the
// application's eBay-side quota.
type AnalyticsClient struct {
	rest *RestClient
}

// NewAnalyticsClient creates a new eBay Analytics API client.
func NewAnalyticsClient(rest *RestClient) *AnalyticsClient {
	return &AnalyticsClient{rest: rest}
}

// GetRateLimits returns quota state for every resource, optionally filtered
// by API context (e.g. "buy") and name (e.g. "browse").
func (c *AnalyticsClient) GetRateLimits(
	ctx context.Context,
	apiContext, apiName string,
) ([]QuotaState, error) {
	params := url.Values{}
	if apiContext != "" {
		params.Set("api_context", apiContext)
	}
	if apiName != "" {
		params.Set("api_name", apiName)
	}

	resp, err := c.rest.Get(ctx, analyticsRateLimitPath, &RequestOptions{
		Params:  params,
		NoCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("getting rate limits: %w", err)
	}

	var apiResp rateLimitResponse
	if err := resp.Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("parsing analytics response: %w", err)
	}

	return flattenQuotas(apiResp)
}

// GetBrowseQuota returns the current rate limit state for the Browse API
// search resource (buy.browse).
func (c *AnalyticsClient) GetBrowseQuota(ctx context.Context) (*QuotaState, error) {
	quotas, err := c.GetRateLimits(ctx, "buy", "browse")
	if err != nil {
		return nil, err
	}
	for i := range quotas {
		if quotas[i].Resource == browseResourceName {
			return &quotas[i], nil
		}
	}
	return nil, fmt.Errorf("resource %q not found in analytics response", browseResourceName)
}

// flattenQuotas turns the nested response into one QuotaState per resource,
// using each resource's first rate window.
func flattenQuotas(resp rateLimitResponse) ([]QuotaState, error) {
	var out []QuotaState
	for _, entry := range resp.RateLimits {
		for _, res := range entry.Resources {
			if len(res.Rates) == 0 {
				continue
			}

			r := res.Rates[0]

			var resetAt time.Time
			if r.Reset != "" {
				t, err := time.Parse(time.RFC3339, r.Reset)
				if err != nil {
					return nil, fmt.Errorf(
						"parsing reset time %q: %w", r.Reset, err,
					)
				}
				resetAt = t
			}

			out = append(out, QuotaState{
				APIContext: entry.APIContext,
				APIName:    entry.APIName,
				Resource:   res.Name,
				Count:      r.Count,
				Limit:      r.Limit,
				Remaining:  r.Remaining,
				ResetAt:    resetAt,
				TimeWindow: time.Duration(r.TimeWindow) * time.Second,
			})
		}
	}
	return out, nil
}
