package handler

import (
	"net/http"

	"github.com/capitalize-ai/session-sync/internal/controller"
	natsclient "github.com/capitalize-ai/session-sync/internal/nats"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	engine     *controller.Engine
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(natsClient *natsclient.Client, engine *controller.Engine) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		engine:     engine,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient == nil || !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	status := map[string]string{"status": "ready"}
	if h.engine != nil && h.engine.Degraded() {
		// Degraded is readable but stale: some notification channels
		// are down and this session's view may lag.
		status["sync"] = "degraded"
	}

	writeJSON(w, http.StatusOK, status)
}
