package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

// StatusResponse is a generic status response body.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// failureStatus maps a classified eBay failure onto the status this server
// answers with. Upstream authentication and server faults are reported as
// gateway errors, not as failures of the caller's own request.
var failureStatus = map[ebay.FailureKind]int{
	ebay.KindConfiguration:   http.StatusServiceUnavailable,
	ebay.KindConsentRequired: http.StatusForbidden,
	ebay.KindConsentFailed:   http.StatusBadRequest,
	ebay.KindTransientAuth:   http.StatusServiceUnavailable,
	ebay.KindAuthentication:  http.StatusBadGateway,
	ebay.KindRequest:         http.StatusBadRequest,
	ebay.KindBusiness:        http.StatusUnprocessableEntity,
	ebay.KindApplication:     http.StatusBadGateway,
	ebay.KindRateLimit:       http.StatusTooManyRequests,
	ebay.KindCircuitOpen:     http.StatusServiceUnavailable,
	ebay.KindCanceled:        http.StatusRequestTimeout,
	ebay.KindInternal:        http.StatusInternalServerError,
}

// failureError converts err into a huma error carrying the classification
// kind and the remediation guidance.
func failureError(err error) huma.StatusError {
	f := ebay.Classify(err)

	status, ok := failureStatus[f.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if f.Kind == ebay.KindRequest && f.StatusCode == http.StatusNotFound {
		status = http.StatusNotFound
	}

	return huma.NewError(status, f.Message, &huma.ErrorDetail{
		Location: string(f.Kind),
		Message:  f.Guidance,
	})
}
