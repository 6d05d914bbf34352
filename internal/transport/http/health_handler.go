package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthStats aggregates runtime counters for the health endpoint
type HealthStats interface {
	ClientCount() int
}

// JobCounter reports the number of tracked jobs
type JobCounter interface {
	Count() int
}

// RunCounter reports the number of active pipeline runs
type RunCounter interface {
	ActiveRuns() int
}

// HealthHandler handles liveness and status requests
type HealthHandler struct {
	version   string
	startedAt time.Time
	hub       HealthStats
	registry  JobCounter
	orch      RunCounter
	logger    *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, hub HealthStats, registry JobCounter, orch RunCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startedAt: time.Now(),
		hub:       hub,
		registry:  registry,
		orch:      orch,
		logger:    logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":       "healthy",
		"version":      h.version,
		"uptime":       time.Since(h.startedAt).String(),
		"connections":  h.hub.ClientCount(),
		"tracked_jobs": h.registry.Count(),
		"active_runs":  h.orch.ActiveRuns(),
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}
