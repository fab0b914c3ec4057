package handler

import (
	"net/http"

	"github.com/quantfold/arbot/internal/domain"
)

// PositionSource exposes the ledger's open positions and daily P&L.
type PositionSource interface {
	Positions() []domain.Position
	DailyPnL() int64
}

// PositionHandler serves open positions from the in-memory ledger.
type PositionHandler struct {
	source PositionSource
}

// NewPositionHandler creates a PositionHandler backed by the ledger.
func NewPositionHandler(source PositionSource) *PositionHandler {
	return &PositionHandler{source: source}
}

// ListPositions responds with all open positions and the running daily P&L.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.source.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions":       positions,
		"daily_pnl_cents": h.source.DailyPnL(),
	})
}
