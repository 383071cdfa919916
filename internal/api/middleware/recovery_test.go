package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		handler    echo.HandlerFunc
		wantStatus int
		wantBody   string
		wantLog    []string
	}{
		{
			name:       "no panic",
			method:     http.MethodGet,
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:       "string panic",
			method:     http.MethodGet,
			handler:    func(echo.Context) error { panic("nil breaker") },
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal server error",
			wantLog:    []string{"panic recovered", "nil breaker", "path=/api/v1/status", "stack="},
		},
		{
			name:       "non-string panic",
			method:     http.MethodPost,
			handler:    func(echo.Context) error { panic(42) },
			wantStatus: http.StatusInternalServerError,
			wantLog:    []string{"error=42", "method=POST"},
		},
		{
			name:   "panic after commit keeps written status",
			method: http.MethodGet,
			handler: func(c echo.Context) error {
				c.Response().WriteHeader(http.StatusAccepted)
				panic("late")
			},
			wantStatus: http.StatusAccepted,
			wantLog:    []string{"panic recovered", "late"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			handler := Recovery(slog.New(slog.NewTextHandler(&buf, nil)))(tt.handler)

			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(tt.method, "/api/v1/status", http.NoBody), rec)
			require.NoError(t, handler(c))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			if len(tt.wantLog) == 0 {
				assert.Empty(t, buf.String())
			}
			for _, want := range tt.wantLog {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRecovery_AbortHandlerRepanics(t *testing.T) {
	t.Parallel()

	handler := Recovery(slog.New(slog.DiscardHandler))(func(echo.Context) error {
		panic(http.ErrAbortHandler)
	})
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/mcp", http.NoBody), httptest.NewRecorder())

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { _ = handler(c) })
}

func TestRecovery_LogsRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestLog(log)(Recovery(log)(func(echo.Context) error { panic("boom") }))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	require.NoError(t, handler(echo.New().NewContext(req, rec)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "request_id=req-42")
}
