package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/ledger"
)

// ProfitReader loads the cumulative profit record. *ledger.Ledger
// satisfies it.
type ProfitReader interface {
	Load(ctx context.Context) (ledger.Record, error)
}

// ProfitHandler serves the profit ledger totals.
type ProfitHandler struct {
	ledger ProfitReader
	logger *slog.Logger
}

// NewProfitHandler creates a ProfitHandler.
func NewProfitHandler(l ProfitReader, logger *slog.Logger) *ProfitHandler {
	return &ProfitHandler{ledger: l, logger: logHandler(logger, "profit")}
}

// GetProfit returns cumulative realised profit.
// GET /api/profit
func (h *ProfitHandler) GetProfit(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Load(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load profit ledger", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "profit ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cumulative_profit_wei": rec.CumulativeProfitWei.String(),
		"cumulative_profit":     amm.Format(rec.CumulativeProfitWei),
		"cumulative_profit_usd": rec.CumulativeProfitUSD.StringFixed(2),
	})
}
