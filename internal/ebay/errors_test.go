package ebay_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

func TestParseError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		header        http.Header
		body          string
		extra         map[int]struct{}
		wantCategory  ebay.ErrorCategory
		wantRetryable bool
		wantID        int
		wantMessage   string
		wantRetry     time.Duration
	}{
		{
			name:   "declared business category",
			status: http.StatusBadRequest,
			body: `{"errors":[{"errorId":25002,"domain":"API_INVENTORY","category":"BUSINESS",` +
				`"message":"A user error has occurred.","longMessage":"Price is invalid.",` +
				`"inputRefIds":["$.price.value"]}]}`,
			wantCategory: ebay.CategoryBusiness,
			wantID:       25002,
			wantMessage:  "A user error has occurred.",
		},
		{
			name:         "declared request category on 400",
			status:       http.StatusBadRequest,
			body:         `{"errors":[{"errorId":2004,"category":"REQUEST","message":"Invalid request"}]}`,
			wantCategory: ebay.CategoryRequest,
			wantID:       2004,
			wantMessage:  "Invalid request",
		},
		{
			name:         "400 without category falls back to business",
			status:       http.StatusBadRequest,
			body:         `{"errors":[{"errorId":1,"message":"bad"}]}`,
			wantCategory: ebay.CategoryBusiness,
			wantID:       1,
			wantMessage:  "bad",
		},
		{
			name:         "422 falls back to business",
			status:       http.StatusUnprocessableEntity,
			body:         `not json`,
			wantCategory: ebay.CategoryBusiness,
			wantMessage:  "not json",
		},
		{
			name:         "403 falls back to request",
			status:       http.StatusForbidden,
			body:         ``,
			wantCategory: ebay.CategoryRequest,
			wantMessage:  "Forbidden",
		},
		{
			name:          "500 is application and retryable",
			status:        http.StatusInternalServerError,
			body:          `{"errors":[{"errorId":10001,"category":"APPLICATION","message":"System error"}]}`,
			wantCategory:  ebay.CategoryApplication,
			wantRetryable: true,
			wantID:        10001,
			wantMessage:   "System error",
		},
		{
			name:          "503 with request category is still application",
			status:        http.StatusServiceUnavailable,
			body:          `{"errors":[{"errorId":1,"category":"REQUEST","message":"down"}]}`,
			wantCategory:  ebay.CategoryApplication,
			wantRetryable: true,
			wantID:        1,
			wantMessage:   "down",
		},
		{
			name:          "known transient request error is retryable",
			status:        http.StatusBadRequest,
			body:          `{"errors":[{"errorId":25001,"category":"REQUEST","message":"A system error has occurred."}]}`,
			wantCategory:  ebay.CategoryRequest,
			wantRetryable: true,
			wantID:        25001,
			wantMessage:   "A system error has occurred.",
		},
		{
			name:          "configured retryable request error",
			status:        http.StatusConflict,
			body:          `{"errors":[{"errorId":777,"category":"REQUEST","message":"try later"}]}`,
			extra:         map[int]struct{}{777: {}},
			wantCategory:  ebay.CategoryRequest,
			wantRetryable: true,
			wantID:        777,
			wantMessage:   "try later",
		},
		{
			name:          "429 with retry-after seconds",
			status:        http.StatusTooManyRequests,
			header:        http.Header{"Retry-After": {"2"}},
			body:          `{"errors":[{"errorId":2001,"category":"REQUEST","message":"Too many requests"}]}`,
			wantCategory:  ebay.CategoryRequest,
			wantRetryable: true,
			wantID:        2001,
			wantMessage:   "Too many requests",
			wantRetry:     2 * time.Second,
		},
		{
			name:   "429 with retry_after parameter",
			status: http.StatusTooManyRequests,
			body: `{"errors":[{"errorId":2001,"message":"slow down",` +
				`"parameters":[{"name":"retry_after","value":"7"}]}]}`,
			wantCategory:  ebay.CategoryRequest,
			wantRetryable: true,
			wantID:        2001,
			wantMessage:   "slow down",
			wantRetry:     7 * time.Second,
		},
		{
			name:         "401 is never retryable",
			status:       http.StatusUnauthorized,
			body:         `{"errors":[{"errorId":1001,"category":"REQUEST","message":"Invalid access token"}]}`,
			wantCategory: ebay.CategoryRequest,
			wantID:       1001,
			wantMessage:  "Invalid access token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := ebay.ParseError(tt.status, tt.header, []byte(tt.body), tt.extra)

			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, tt.wantCategory, e.Category)
			assert.Equal(t, tt.wantRetryable, e.Retryable)
			assert.Equal(t, tt.wantID, e.ErrorID)
			assert.Equal(t, tt.wantMessage, e.Message)
			assert.Equal(t, tt.wantRetry, e.RetryAfter)
		})
	}
}

func TestParseError_FieldIssuesAndRequestID(t *testing.T) {
	t.Parallel()

	body := `{"errors":[
		{"errorId":25002,"category":"BUSINESS","message":"A user error has occurred.",
		 "longMessage":"The price must be positive.","inputRefIds":["$.price.value"]},
		{"errorId":25709,"category":"BUSINESS","message":"Invalid SKU","inputRefIds":["sku"]}
	],"warnings":[{"errorId":25401,"message":"Deprecated field"}]}`

	e := ebay.ParseError(
		http.StatusBadRequest,
		http.Header{"X-Ebay-C-Request-Id": {"req-42"}},
		[]byte(body),
		nil,
	)

	assert.Equal(t, "req-42", e.RequestID)
	assert.Equal(t, []string{"$.price.value"}, e.InputRefIDs)
	assert.Equal(t, "The price must be positive.", e.LongMessage)
	require.Len(t, e.Warnings, 1)
	assert.Equal(t, []ebay.FieldIssue{
		{Field: "$.price.value", Message: "The price must be positive."},
		{Field: "sku", Message: "Invalid SKU"},
	}, e.FieldIssues())
}

func TestAPIError_Is(t *testing.T) {
	t.Parallel()

	business := ebay.ParseError(http.StatusBadRequest, nil, []byte(`{"errors":[{"category":"BUSINESS","message":"x"}]}`), nil)
	unauthorized := ebay.ParseError(http.StatusUnauthorized, nil, nil, nil)
	throttled := ebay.ParseError(http.StatusTooManyRequests, nil, nil, nil)
	outage := ebay.ParseError(http.StatusBadGateway, nil, nil, nil)

	wrapped := fmt.Errorf("getting item: %w", business)
	assert.ErrorIs(t, wrapped, ebay.ErrBusiness)
	assert.NotErrorIs(t, wrapped, ebay.ErrRequest)
	assert.ErrorIs(t, unauthorized, ebay.ErrAuthentication)
	assert.ErrorIs(t, unauthorized, ebay.ErrRequest)
	assert.ErrorIs(t, throttled, ebay.ErrRateLimitExceeded)
	assert.ErrorIs(t, outage, ebay.ErrApplication)

	netErr := ebay.NetworkError(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, netErr, ebay.ErrApplication)
	assert.True(t, netErr.Retryable)
	assert.Contains(t, netErr.Error(), "network")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	business := ebay.ParseError(http.StatusBadRequest, nil, []byte(
		`{"errors":[{"errorId":25002,"category":"BUSINESS","message":"bad price","inputRefIds":["$.price"]}]}`,
	), nil)

	tests := []struct {
		name          string
		err           error
		wantKind      ebay.FailureKind
		wantRetryable bool
		guidance      string
	}{
		{
			name:     "configuration",
			err:      &ebay.ConfigurationError{Message: "missing credentials"},
			wantKind: ebay.KindConfiguration,
			guidance: "EBAY_APP_ID",
		},
		{
			name:     "consent required",
			err:      fmt.Errorf("wrapped: %w", &ebay.ConsentRequiredError{Scopes: ebay.UserConsentScopes}),
			wantKind: ebay.KindConsentRequired,
			guidance: "initiate_user_consent",
		},
		{
			name:          "circuit open",
			err:           &ebay.CircuitOpenError{Endpoint: "buy/browse/v1/item", RetryAt: time.Now().Add(time.Minute)},
			wantKind:      ebay.KindCircuitOpen,
			wantRetryable: true,
			guidance:      "paused",
		},
		{
			name:          "local rate limit",
			err:           &ebay.RateLimitError{RetryAfter: time.Second, Daily: true},
			wantKind:      ebay.KindRateLimit,
			wantRetryable: true,
			guidance:      "budget",
		},
		{
			name:     "business with field",
			err:      fmt.Errorf("writing item: %w", business),
			wantKind: ebay.KindBusiness,
			guidance: "$.price",
		},
		{
			name:     "authentication",
			err:      ebay.ParseError(http.StatusUnauthorized, nil, nil, nil),
			wantKind: ebay.KindAuthentication,
			guidance: "consent",
		},
		{
			name:          "application",
			err:           ebay.ParseError(http.StatusServiceUnavailable, nil, nil, nil),
			wantKind:      ebay.KindApplication,
			wantRetryable: true,
			guidance:      "later",
		},
		{
			name:          "transient auth",
			err:           &ebay.TransientAuthError{Err: errors.New("timeout")},
			wantKind:      ebay.KindTransientAuth,
			wantRetryable: true,
			guidance:      "OAuth",
		},
		{
			name:     "replayed callback",
			err:      ebay.ErrConsentAlreadyUsed,
			wantKind: ebay.KindConsentFailed,
			guidance: "initiate_user_consent again",
		},
		{
			name:     "expired session",
			err:      fmt.Errorf("completing consent: %w", ebay.ErrConsentSessionExpired),
			wantKind: ebay.KindConsentFailed,
			guidance: "initiate_user_consent again",
		},
		{
			name:     "denied consent",
			err:      fmt.Errorf("%w: access_denied", ebay.ErrConsentDenied),
			wantKind: ebay.KindConsentFailed,
			guidance: "initiate_user_consent again",
		},
		{
			name:     "forged state",
			err:      ebay.ErrInvalidConsentState,
			wantKind: ebay.KindConsentFailed,
			guidance: "initiate_user_consent again",
		},
		{
			name:     "missing code",
			err:      ebay.ErrMissingCode,
			wantKind: ebay.KindConsentFailed,
			guidance: "initiate_user_consent again",
		},
		{
			name: "code rejected",
			err: fmt.Errorf("exchanging authorization code: %w: %w", ebay.ErrCodeRejected,
				&ebay.TokenRequestError{StatusCode: http.StatusBadRequest, Code: "invalid_grant"}),
			wantKind: ebay.KindConsentFailed,
			guidance: "initiate_user_consent again",
		},
		{
			name:     "unmapped token endpoint rejection",
			err:      &ebay.TokenRequestError{StatusCode: http.StatusForbidden, Code: "access_denied"},
			wantKind: ebay.KindAuthentication,
			guidance: "keyset",
		},
		{
			name:     "unknown",
			err:      errors.New("boom"),
			wantKind: ebay.KindInternal,
			guidance: "logs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := ebay.Classify(tt.err)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.Equal(t, tt.wantRetryable, f.Retryable)
			assert.Contains(t, f.Guidance, tt.guidance)
			assert.NotEmpty(t, f.Message)
		})
	}
}

func TestClassify_BusinessFields(t *testing.T) {
	t.Parallel()

	e := ebay.ParseError(http.StatusBadRequest, nil, []byte(
		`{"errors":[{"errorId":25002,"category":"BUSINESS","message":"bad","inputRefIds":["$.availability"]}]}`,
	), nil)

	f := ebay.Classify(e)
	require.Len(t, f.Fields, 1)
	assert.Equal(t, "$.availability", f.Fields[0].Field)
	assert.Equal(t, ebay.CategoryBusiness, f.Category)
	assert.Equal(t, 25002, f.ErrorID)
}
