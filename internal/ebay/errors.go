package ebay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors. Every typed error below matches exactly one of these via
// errors.Is.
var (
	ErrConfiguration     = errors.New("eBay client misconfigured")
	ErrConsentRequired   = errors.New("user consent required")
	ErrTransientAuth     = errors.New("transient OAuth failure")
	ErrAuthentication    = errors.New("eBay authentication failed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrDailyLimitReached = errors.New("daily API limit reached")
	ErrCircuitOpen       = errors.New("circuit open")

	ErrRequest     = errors.New("eBay request error")
	ErrBusiness    = errors.New("eBay business rule violation")
	ErrApplication = errors.New("eBay application error")
)

// ErrorCategory is eBay's three-way error classification.
type ErrorCategory string

// Error categories as declared in eBay error bodies.
const (
	CategoryApplication ErrorCategory = "APPLICATION"
	CategoryBusiness    ErrorCategory = "BUSINESS"
	CategoryRequest     ErrorCategory = "REQUEST"
)

// ConfigurationError reports missing or rejected credentials. It is fatal and
// never retried.
type ConfigurationError struct {
	Message     string
	Remediation string
}

func (e *ConfigurationError) Error() string {
	if e.Remediation == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s (%s)", e.Message, e.Remediation)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConsentRequiredError is returned when a user-scope token is unavailable
// and the caller must run the consent flow.
type ConsentRequiredError struct {
	Scopes ScopeSet
	Reason string
}

func (e *ConsentRequiredError) Error() string {
	msg := "user consent required"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + "; run initiate_user_consent then complete_user_consent"
}

// Is matches ErrConsentRequired.
func (e *ConsentRequiredError) Is(target error) bool { return target == ErrConsentRequired }

// TransientAuthError wraps a network or server-side failure of the token
// endpoint. Callers may retry.
type TransientAuthError struct {
	Err error
}

func (e *TransientAuthError) Error() string {
	return "token request failed transiently: " + e.Err.Error()
}

func (e *TransientAuthError) Unwrap() error { return e.Err }

// Is matches ErrTransientAuth.
func (e *TransientAuthError) Is(target error) bool { return target == ErrTransientAuth }

// TokenRequestError is a rejection from the token endpoint that maps to no
// more specific error.
type TokenRequestError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenRequestError) Error() string {
	return fmt.Sprintf("token request failed (status %d): %s - %s", e.StatusCode, e.Code, e.Description)
}

// RateLimitError is returned when the local bucket is exhausted beyond the
// configured wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Daily      bool
}

func (e *RateLimitError) Error() string {
	scope := "per-second"
	if e.Daily {
		scope = "daily"
	}
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", scope, e.RetryAfter.Round(time.Millisecond))
}

// Is matches ErrRateLimitExceeded, and ErrDailyLimitReached for the daily bucket.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded || (e.Daily && target == ErrDailyLimitReached)
}

// CircuitOpenError is returned without any network call while an endpoint is
// quarantined.
type CircuitOpenError struct {
	Endpoint string
	RetryAt  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Endpoint, e.RetryAt.Format(time.RFC3339))
}

// Is matches ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// ErrorParameter is a name/value pair attached to an eBay error.
type ErrorParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ErrorDetail is one entry of an eBay error body's errors or warnings array.
type ErrorDetail struct {
	ErrorID      int              `json:"errorId"`
	Domain       string           `json:"domain,omitempty"`
	Subdomain    string           `json:"subdomain,omitempty"`
	Category     string           `json:"category,omitempty"`
	Message      string           `json:"message"`
	LongMessage  string           `json:"longMessage,omitempty"`
	InputRefIDs  []string         `json:"inputRefIds,omitempty"`
	OutputRefIDs []string         `json:"outputRefIds,omitempty"`
	Parameters   []ErrorParameter `json:"parameters,omitempty"`
}

type errorBody struct {
	Errors   []ErrorDetail `json:"errors"`
	Warnings []ErrorDetail `json:"warnings"`
	Message  string        `json:"message"`
}

// FieldIssue points at an offending input field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a classified failure of a REST call. It is built once per
// failed attempt and not modified afterwards.
type APIError struct {
	StatusCode  int
	Category    ErrorCategory
	ErrorID     int
	Message     string
	LongMessage string
	InputRefIDs []string
	Details     []ErrorDetail
	Warnings    []ErrorDetail
	RequestID   string
	Retryable   bool
	RetryAfter  time.Duration
	Err         error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.StatusCode == 0 {
		b.WriteString("eBay API error (network")
	} else {
		fmt.Fprintf(&b, "eBay API error (status %d", e.StatusCode)
	}
	fmt.Fprintf(&b, ", %s", e.Category)
	if e.ErrorID != 0 {
		fmt.Fprintf(&b, ", error %d", e.ErrorID)
	}
	b.WriteString("): ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Is matches the category sentinel, plus ErrAuthentication for 401 and
// ErrRateLimitExceeded for 429.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRateLimitExceeded:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrRequest:
		return e.Category == CategoryRequest
	case ErrBusiness:
		return e.Category == CategoryBusiness
	case ErrApplication:
		return e.Category == CategoryApplication
	}
	return false
}

// FieldIssues extracts field-level detail from inputRefIds across all errors.
func (e *APIError) FieldIssues() []FieldIssue {
	var out []FieldIssue
	for _, d := range e.Details {
		msg := d.LongMessage
		if msg == "" {
			msg = d.Message
		}
		for _, ref := range d.InputRefIDs {
			out = append(out, FieldIssue{Field: ref, Message: msg})
		}
	}
	return out
}

// retryableErrorIDs are REQUEST-category error ids known to be transient.
// 25001 is eBay's generic "A system error has occurred".
var retryableErrorIDs = map[int]struct{}{
	25001: {},
}

// ParseError classifies a failed HTTP response. extraRetryable extends the
// built-in allow-list of retryable REQUEST error ids.
func ParseError(
	statusCode int,
	header http.Header,
	body []byte,
	extraRetryable map[int]struct{},
) *APIError {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed) //nolint:errcheck // best-effort error parsing

	e := &APIError{
		StatusCode: statusCode,
		Details:    parsed.Errors,
		Warnings:   parsed.Warnings,
	}
	if header != nil {
		e.RequestID = header.Get("X-EBAY-C-REQUEST-ID")
	}

	var primary ErrorDetail
	if len(parsed.Errors) > 0 {
		primary = parsed.Errors[0]
	}
	e.ErrorID = primary.ErrorID
	e.LongMessage = primary.LongMessage
	e.InputRefIDs = primary.InputRefIDs
	e.Message = primary.Message
	if e.Message == "" {
		e.Message = parsed.Message
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}

	e.Category = categorize(statusCode, primary.Category)

	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Retryable = true
		e.RetryAfter = retryAfter(header, parsed.Errors)
	case statusCode == http.StatusUnauthorized:
		e.Retryable = false
	case e.Category == CategoryApplication:
		e.Retryable = true
	case e.Category == CategoryRequest:
		e.Retryable = isRetryableID(e.ErrorID, extraRetryable)
	}

	return e
}

// NetworkError builds an APPLICATION-category error for a transport failure
// or timeout.
func NetworkError(err error) *APIError {
	return &APIError{
		Category:  CategoryApplication,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

func categorize(statusCode int, declared string) ErrorCategory {
	if statusCode >= 500 {
		return CategoryApplication
	}
	switch ErrorCategory(strings.ToUpper(declared)) {
	case CategoryApplication:
		return CategoryApplication
	case CategoryBusiness:
		return CategoryBusiness
	case CategoryRequest:
		return CategoryRequest
	}
	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CategoryBusiness
	default:
		return CategoryRequest
	}
}

func isRetryableID(id int, extra map[int]struct{}) bool {
	if id == 0 {
		return false
	}
	if _, ok := retryableErrorIDs[id]; ok {
		return true
	}
	_, ok := extra[id]
	return ok
}

// retryAfter reads the Retry-After header (seconds or HTTP date), falling
// back to a retry_after error parameter.
func retryAfter(header http.Header, details []ErrorDetail) time.Duration {
	if header != nil {
		if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
			if at, err := http.ParseTime(v); err == nil {
				if d := time.Until(at); d > 0 {
					return d
				}
				return 0
			}
		}
	}
	for _, d := range details {
		for _, p := range d.Parameters {
			if p.Name != "retry_after" {
				continue
			}
			if secs, err := strconv.Atoi(p.Value); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}
