package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/amep/pkg/metrics"
)

// HealthHandler handles health and metrics requests.
type HealthHandler struct {
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{started: time.Now()}
}

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
	Uptime string    `json:"uptime"`
}

// HandleHealth handles GET /api/health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Metrics serves the engine's Prometheus registry.
func (h *HealthHandler) Metrics() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
