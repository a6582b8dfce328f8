package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stratoarb/internal/executor"
)

// StatusSource reports one pair's live status. *executor.Executor satisfies
// it.
type StatusSource interface {
	Pair() string
	Status() executor.PairStatus
}

// PairsHandler serves per-pair status.
type PairsHandler struct {
	pairs  []StatusSource
	logger *slog.Logger
}

// NewPairsHandler creates a PairsHandler over the configured pairs.
func NewPairsHandler(pairs []StatusSource, logger *slog.Logger) *PairsHandler {
	return &PairsHandler{pairs: pairs, logger: logHandler(logger, "pairs")}
}

// ListPairs returns every pair's status in configuration order.
// GET /api/pairs
func (h *PairsHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	out := make([]executor.PairStatus, 0, len(h.pairs))
	for _, p := range h.pairs {
		out = append(out, p.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": out})
}

// GetPair returns a single pair's status.
// GET /api/pairs/{pair...}
func (h *PairsHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pair")
	for _, p := range h.pairs {
		if p.Pair() == name {
			writeJSON(w, http.StatusOK, p.Status())
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown pair")
}
