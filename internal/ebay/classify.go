package ebay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FailureKind names the error variant a caller must handle.
type FailureKind string

// Failure kinds.
const (
	KindConfiguration   FailureKind = "configuration_error"
	KindConsentRequired FailureKind = "consent_required"
	KindConsentFailed   FailureKind = "consent_failed"
	KindTransientAuth   FailureKind = "transient_auth_error"
	KindAuthentication  FailureKind = "authentication_error"
	KindRequest         FailureKind = "request_error"
	KindBusiness        FailureKind = "business_error"
	KindApplication     FailureKind = "application_error"
	KindRateLimit       FailureKind = "rate_limit_exceeded"
	KindCircuitOpen     FailureKind = "circuit_open"
	KindCanceled        FailureKind = "canceled"
	KindInternal        FailureKind = "internal_error"
)

// Failure is the presentable summary of an error, returned to MCP clients.
type Failure struct {
	Kind         FailureKind   `json:"kind"`
	Category     ErrorCategory `json:"category,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	ErrorID      int           `json:"error_id,omitempty"`
	Message      string        `json:"message"`
	LongMessage  string        `json:"long_message,omitempty"`
	Guidance     string        `json:"guidance"`
	Retryable    bool          `json:"retryable"`
	RetryAfter   float64       `json:"retry_after_seconds,omitempty"`
	Fields       []FieldIssue  `json:"fields,omitempty"`
	Scopes       []string      `json:"scopes,omitempty"`
	Endpoint     string        `json:"endpoint,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
	RetryAtEpoch int64         `json:"retry_at,omitempty"`
}

// Classify maps any error returned by this package onto a Failure without
// discarding its classification.
func Classify(err error) Failure {
	var (
		cfgErr     *ConfigurationError
		consentErr *ConsentRequiredError
		transient  *TransientAuthError
		rlErr      *RateLimitError
		circuitErr *CircuitOpenError
		apiErr     *APIError
		tokenErr   *TokenRequestError
	)

	switch {
	case err == nil:
		return Failure{Kind: KindInternal, Message: "no error"}

	case errors.As(err, &cfgErr):
		return Failure{
			Kind:     KindConfiguration,
			Message:  cfgErr.Message,
			Guidance: "Fix the server configuration: " + orDefault(cfgErr.Remediation, credentialsRemediation),
		}

	case errors.As(err, &consentErr):
		return Failure{
			Kind:     KindConsentRequired,
			Message:  consentErr.Error(),
			Scopes:   []string(consentErr.Scopes),
			Guidance: "This operation needs user authorization. Call initiate_user_consent, open the returned URL, then call complete_user_consent with the redirect URL.",
		}

	case isConsentFailure(err):
		return Failure{
			Kind:     KindConsentFailed,
			Message:  err.Error(),
			Guidance: "This consent attempt cannot be completed. Call initiate_user_consent again, open the new URL, then call complete_user_consent with the redirect URL.",
		}

	case errors.As(err, &circuitErr):
		return Failure{
			Kind:         KindCircuitOpen,
			Message:      circuitErr.Error(),
			Endpoint:     circuitErr.Endpoint,
			Retryable:    true,
			RetryAfter:   secondsUntil(circuitErr.RetryAt),
			RetryAtEpoch: circuitErr.RetryAt.Unix(),
			Guidance:     "The eBay endpoint is failing repeatedly and calls are paused. Try again after the retry time.",
		}

	case errors.As(err, &rlErr):
		return Failure{
			Kind:       KindRateLimit,
			Message:    rlErr.Error(),
			Retryable:  true,
			RetryAfter: rlErr.RetryAfter.Seconds(),
			Guidance:   "The local API call budget is exhausted. Wait before retrying or reduce call volume.",
		}

	case errors.As(err, &apiErr):
		return classifyAPIError(apiErr)

	case errors.As(err, &transient):
		return Failure{
			Kind:      KindTransientAuth,
			Message:   transient.Error(),
			Retryable: true,
			Guidance:  "The eBay OAuth service could not be reached. Retry shortly.",
		}

	case errors.As(err, &tokenErr):
		return Failure{
			Kind:       KindAuthentication,
			StatusCode: tokenErr.StatusCode,
			Message:    tokenErr.Error(),
			Guidance:   "The eBay OAuth service rejected the token request. Check the keyset and requested scopes.",
		}

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Failure{
			Kind:      KindCanceled,
			Message:   err.Error(),
			Retryable: true,
			Guidance:  "The request was canceled or timed out before eBay responded.",
		}

	default:
		return Failure{
			Kind:     KindInternal,
			Message:  err.Error(),
			Guidance: "Unexpected error; see server logs.",
		}
	}
}

// consentFailures end a consent session. The caller has to start over.
var consentFailures = []error{
	ErrInvalidConsentState,
	ErrConsentSessionExpired,
	ErrConsentAlreadyUsed,
	ErrConsentDenied,
	ErrMissingCode,
	ErrCodeRejected,
}

func isConsentFailure(err error) bool {
	for _, target := range consentFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyAPIError(e *APIError) Failure {
	f := Failure{
		Category:    e.Category,
		StatusCode:  e.StatusCode,
		ErrorID:     e.ErrorID,
		Message:     e.Message,
		LongMessage: e.LongMessage,
		Retryable:   e.Retryable,
		Fields:      e.FieldIssues(),
		RequestID:   e.RequestID,
	}

	switch {
	case e.StatusCode == http.StatusUnauthorized:
		f.Kind = KindAuthentication
		f.Guidance = "eBay rejected the access token even after a refresh. Check the keyset and, for user operations, re-run the consent flow."
	case e.StatusCode == http.StatusTooManyRequests:
		f.Kind = KindRateLimit
		f.RetryAfter = e.RetryAfter.Seconds()
		f.Guidance = "eBay is throttling this application. Wait before retrying."
	case e.Category == CategoryBusiness:
		f.Kind = KindBusiness
		f.Guidance = "eBay rejected the request under a business rule. Correct the input and do not retry unchanged."
		if len(f.Fields) > 0 {
			f.Guidance += fmt.Sprintf(" Offending field: %s.", f.Fields[0].Field)
		}
	case e.Category == CategoryApplication:
		f.Kind = KindApplication
		f.Guidance = "eBay or the network failed after retries. Try again later."
	default:
		f.Kind = KindRequest
		f.Guidance = "The request was invalid or not permitted. Check the parameters and token scopes."
		if len(f.Fields) > 0 {
			f.Guidance += fmt.Sprintf(" Offending field: %s.", f.Fields[0].Field)
		}
	}
	return f
}

func secondsUntil(t time.Time) float64 {
	d := time.Until(t).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
