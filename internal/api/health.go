package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/healthconnect/internal/consult"
	"github.com/ashureev/healthconnect/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// RelayStatus reports live-consultation slot occupancy.
type RelayStatus interface {
	Status() consult.Status
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo  store.Repository
	relay RelayStatus
}

// NewHealthHandler creates a new health handler. relay may be nil.
func NewHealthHandler(repo store.Repository, relay RelayStatus) *HealthHandler {
	return &HealthHandler{repo: repo, relay: relay}
}

// Root answers the bare liveness check.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]interface{}{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.relay != nil {
		checks["live_consultation"] = h.relay.Status()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
}
