package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode      string
	dryRun    bool
	startedAt time.Time
	logger    *slog.Logger
	now       func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(mode string, dryRun bool, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{mode: mode, dryRun: dryRun, startedAt: startedAt, logger: logger, now: time.Now}
}

// HealthCheck reports that the process is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"dry_run":        h.dryRun,
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"timestamp":      now.Format(time.RFC3339),
	})
}
