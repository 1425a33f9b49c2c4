package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports per-dependency reachability; a nil error is healthy
type HealthChecker interface {
	Health(ctx context.Context) map[string]error
}

// HealthHandler reports dependency health
type HealthHandler struct {
	service string
	checks  []HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service string, checks ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		service: service,
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
	Degraded   []string          `json:"degraded,omitempty"`
}

// GetHealth pings every dependency. The service keeps answering avatar
// requests while storage is down, so degraded still returns 200.
// GET /health
func (h *HealthHandler) GetHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:     "ok",
		Service:    h.service,
		Components: make(map[string]string),
	}
	for _, check := range h.checks {
		for name, err := range check.Health(ctx) {
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Degraded = append(resp.Degraded, name)
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	if len(resp.Degraded) > 0 {
		resp.Status = "degraded"
		sort.Strings(resp.Degraded)
	}

	return c.JSON(http.StatusOK, resp)
}
