package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/status"
)

// Reporter produces the combined component status.
type Reporter interface {
	Report() status.Report
}

// CircuitResetter closes every circuit breaker.
type CircuitResetter interface {
	Reset()
}

// StatusHandler serves resilience status and circuit administration.
type StatusHandler struct {
	reporter Reporter
	circuits CircuitResetter
}

// NewStatusHandler creates a StatusHandler. circuits may be nil, in which
// case the reset operation answers 503.
func NewStatusHandler(r Reporter, circuits CircuitResetter) *StatusHandler {
	return &StatusHandler{reporter: r, circuits: circuits}
}

// StatusOutput is the response for GET /api/v1/status.
type StatusOutput struct {
	Body status.Report
}

// GetStatus returns the rate limiter, circuits, tokens and cache status.
func (h *StatusHandler) GetStatus(_ context.Context, _ *struct{}) (*StatusOutput, error) {
	return &StatusOutput{Body: h.reporter.Report()}, nil
}

// ResetCircuitsOutput is the response for POST /api/v1/circuits/reset.
type ResetCircuitsOutput struct {
	Body struct {
		Reset []string `json:"reset" doc:"Endpoint keys that were open or half-open before the reset"`
	}
}

// ResetCircuits closes every circuit so the next call goes through.
func (h *StatusHandler) ResetCircuits(_ context.Context, _ *struct{}) (*ResetCircuitsOutput, error) {
	if h.circuits == nil {
		return nil, huma.Error503ServiceUnavailable("circuit breakers are not configured")
	}

	resp := &ResetCircuitsOutput{}
	resp.Body.Reset = []string{}
	for _, s := range h.reporter.Report().Circuits {
		if s.State != ebay.CircuitClosed {
			resp.Body.Reset = append(resp.Body.Reset, s.EndpointKey)
		}
	}
	h.circuits.Reset()
	return resp, nil
}

// RegisterStatusRoutes registers the status routes on the Huma API.
func RegisterStatusRoutes(api huma.API, h *StatusHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Get client status",
		Description: "Returns the rate limit budget, circuit breaker states, cached token metadata, and cache counters.",
		Tags:        []string{"system"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "reset-circuits",
		Method:      http.MethodPost,
		Path:        "/api/v1/circuits/reset",
		Summary:     "Reset circuit breakers",
		Description: "Closes every circuit breaker and clears failure counts.",
		Tags:        []string{"system"},
	}, h.ResetCircuits)
}
