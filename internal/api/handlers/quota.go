package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// UpstreamQuota reads the application's quota as eBay accounts it.
type UpstreamQuota interface {
	GetRateLimits(ctx context.Context, apiContext, apiName string) ([]ebay.QuotaState, error)
}

// QuotaHandler provides the eBay API quota status endpoints.
type QuotaHandler struct {
	rl       *ebay.RateLimiter
	upstream UpstreamQuota
}

// NewQuotaHandler creates a new QuotaHandler. upstream may be nil, in which
// case only the local budget is served.
func NewQuotaHandler(rl *ebay.RateLimiter, upstream UpstreamQuota) *QuotaHandler {
	return &QuotaHandler{rl: rl, upstream: upstream}
}

// QuotaOutput is the response body for the quota endpoint.
type QuotaOutput struct {
	Body struct {
		DailyLimit int64     `json:"daily_limit" example:"5000"                 doc:"Configured daily API call limit"`
		DailyUsed  int64     `json:"daily_used"  example:"142"                  doc:"Calls consumed from the daily budget"`
		Remaining  int64     `json:"remaining"   example:"4858"                 doc:"Calls available right now"`
		ResetAt    time.Time `json:"reset_at"    example:"2025-06-16T14:30:00Z" doc:"When the budget will be full again"`
		PerSecond  float64   `json:"per_second"  example:"5"                    doc:"Sustained request rate"`
		Burst      int       `json:"burst"       example:"10"                   doc:"Requests allowed in a burst"`
		FailFast   bool      `json:"fail_fast"   example:"false"                doc:"Whether exhausted budgets fail instead of waiting"`
	}
}

// GetQuota returns the local rate limiter budget.
func (h *QuotaHandler) GetQuota(_ context.Context, _ *struct{}) (*QuotaOutput, error) {
	resp := &QuotaOutput{}
	if h.rl == nil {
		return resp, nil
	}

	st := h.rl.Status()
	resp.Body.DailyLimit = st.DailyLimit
	resp.Body.DailyUsed = st.Used
	resp.Body.Remaining = st.Remaining
	resp.Body.ResetAt = st.ResetAt
	resp.Body.PerSecond = st.PerSecond
	resp.Body.Burst = st.Burst
	resp.Body.FailFast = st.FailFast

	return resp, nil
}

// UpstreamQuotaInput selects the eBay API whose quota is read.
type UpstreamQuotaInput struct {
	APIContext string `query:"api_context" default:"buy"    example:"buy"    doc:"eBay API context (buy, sell, commerce, developer)"`
	APIName    string `query:"api_name"    default:"browse" example:"browse" doc:"eBay API name within the context"`
}

// UpstreamQuotaOutput is the response body for the upstream quota endpoint.
type UpstreamQuotaOutput struct {
	Body struct {
		Resources []ebay.QuotaState `json:"resources" doc:"Per-resource quota reported by eBay"`
	}
}

// GetUpstreamQuota returns eBay's own accounting of the application quota.
// The lookup itself goes through the rate limiter and counts against it.
func (h *QuotaHandler) GetUpstreamQuota(
	ctx context.Context,
	in *UpstreamQuotaInput,
) (*UpstreamQuotaOutput, error) {
	if h.upstream == nil {
		return nil, huma.Error503ServiceUnavailable("upstream quota lookup is not configured")
	}

	states, err := h.upstream.GetRateLimits(ctx, in.APIContext, in.APIName)
	if err != nil {
		return nil, failureError(err)
	}

	resp := &UpstreamQuotaOutput{}
	resp.Body.Resources = states
	if resp.Body.Resources == nil {
		resp.Body.Resources = []ebay.QuotaState{}
	}
	return resp, nil
}

// RegisterQuotaRoutes registers the quota endpoints with the Huma API.
func RegisterQuotaRoutes(api huma.API, h *QuotaHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-quota",
		Method:      http.MethodGet,
		Path:        "/api/v1/quota",
		Summary:     "Get local rate limit budget",
		Description: "Returns the daily call budget, current usage, and per-second rate of the local limiter.",
		Tags:        []string{"ebay"},
	}, h.GetQuota)

	huma.Register(api, huma.Operation{
		OperationID: "get-upstream-quota",
		Method:      http.MethodGet,
		Path:        "/api/v1/quota/ebay",
		Summary:     "Get eBay-reported quota",
		Description: "Queries the eBay Developer Analytics API for the application's per-resource quota.",
		Tags:        []string{"ebay"},
	}, h.GetUpstreamQuota)
}
