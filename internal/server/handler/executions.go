package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// ExecutionLister returns recent execution events, newest first.
type ExecutionLister interface {
	RecentExecutions(ctx context.Context, n int) ([]domain.ExecutionEvent, error)
}

// ExecutionsHandler serves the recent execution history.
type ExecutionsHandler struct {
	list   ExecutionLister
	logger *slog.Logger
}

// NewExecutionsHandler creates an ExecutionsHandler.
func NewExecutionsHandler(list ExecutionLister, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{list: list, logger: logHandler(logger, "executions")}
}

// ListRecent returns up to ?limit= (default 50, max 500) executions.
// GET /api/executions
func (h *ExecutionsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	events, err := h.list.RecentExecutions(r.Context(), parseLimit(r, 50, 500))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if events == nil {
		events = []domain.ExecutionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": events})
}
