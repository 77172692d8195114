package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthChecker is implemented by stores that track their own connectivity.
type HealthChecker interface {
	Healthy() bool
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	version string
	store   any
}

// NewHealthHandler creates a health handler. store may implement HealthChecker.
func NewHealthHandler(version string, store any) *HealthHandler {
	return &HealthHandler{version: version, store: store}
}

// Health reports "ok", or 503 when the store reports itself unhealthy.
func (h *HealthHandler) Health(c echo.Context) error {
	if hc, ok := h.store.(HealthChecker); ok && !hc.Healthy() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "version": h.version})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}
