package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"keyforge/pkg/contracts"
	api "keyforge/pkg/contracts/api/v1"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	store   Pinger
	backend string
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, backend string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		backend: backend,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health. It only reports that the process is
// serving.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{
		Status:    "healthy",
		Version:   contracts.Version,
		Backend:   h.backend,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessCheck handles GET /api/health/ready and pings the key store
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:    "ready",
		Version:   contracts.Version,
		Backend:   h.backend,
		Checks:    map[string]string{"store": "ok"},
		Timestamp: time.Now().UTC(),
	}

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", slog.String("error", err.Error()))
		resp.Status = "not_ready"
		resp.Checks["store"] = "unreachable"
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, resp)
}
