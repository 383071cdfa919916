package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const requestIDHeader = "X-Request-ID"

// probePaths are polled by orchestrators every few seconds. A successful probe
// is logged once; later successes are dropped until the probe fails again.
var probePaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// RequestLog returns Echo middleware that logs requests with structured fields.
// It generates a request ID if none is provided and propagates it through
// the response header and echo context. Only the URL path is logged: the
// OAuth callback carries the authorization code in its query string.
func RequestLog(log *slog.Logger) echo.MiddlewareFunc {
	var (
		mu      sync.Mutex
		healthy = map[string]bool{}
	)

	// suppress reports whether a probe result repeats the last logged success.
	suppress := func(path string, ok bool) bool {
		if _, probe := probePaths[path]; !probe {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		was := healthy[path]
		healthy[path] = ok
		return ok && was
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			reqID := c.Request().Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			c.Set("request_id", reqID)
			c.Response().Header().Set(requestIDHeader, reqID)

			err := next(c)
			if err != nil {
				// Let echo write the error response so the logged status is final.
				c.Error(err)
			}

			path := c.Request().URL.Path
			status := c.Response().Status
			if suppress(path, status < 400) {
				return nil
			}

			log.Log(context.Background(), levelFor(path, status), "request",
				"method", c.Request().Method,
				"path", path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", reqID,
			)

			return nil
		}
	}
}

func levelFor(path string, status int) slog.Level {
	_, probe := probePaths[path]
	switch {
	case probe && status >= 400:
		return slog.LevelWarn
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
