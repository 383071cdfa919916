// Package handlers implements the ebay-mcp ops HTTP endpoints: probes, quota
// and resilience status, response cache administration, and the OAuth
// consent receiver.
package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency the server needs before it reports ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health and readiness endpoints.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a HealthHandler that checks each named
// dependency on /readyz. Nil dependencies are skipped, so a server without
// a shared cache is ready as soon as it is live.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	h := &HealthHandler{deps: make(map[string]Pinger, len(deps))}
	for name, p := range deps {
		if p != nil {
			h.deps[name] = p
		}
	}
	return h
}

// Healthz returns 200 if the process is running.
//
// @Summary Liveness check
// @Description Returns 200 if the process is running.
// @Tags health
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /healthz [get]
func (*HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz returns 200 if every dependency answers, 503 otherwise. The failing
// dependency names are listed so an operator can tell them apart.
//
// @Summary Readiness check
// @Description Returns 200 if all dependencies are reachable, 503 otherwise.
// @Tags health
// @Produce json
// @Success 200 {object} StatusResponse
// @Failure 503 {object} StatusResponse
// @Router /readyz [get]
func (h *HealthHandler) Readyz(c echo.Context) error {
	var failed []string
	for name, p := range h.deps {
		if err := p.Ping(c.Request().Context()); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"failed": failed,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
