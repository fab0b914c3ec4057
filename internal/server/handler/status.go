package handler

import (
	"net/http"
	"time"

	"github.com/quantfold/arbot/internal/domain"
)

// StatusSource provides the point-in-time engine snapshot.
type StatusSource interface {
	Status() domain.EngineStatus
}

// StatusHandler serves the engine status for dashboards and operators.
type StatusHandler struct {
	Mode   string
	source StatusSource
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, source StatusSource) *StatusHandler {
	return &StatusHandler{Mode: mode, source: source}
}

// GetStatus responds with the run mode, breaker state, and P&L counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.source.Status()
	resp := map[string]any{
		"mode":                 h.Mode,
		"breaker_state":        st.BreakerState,
		"breaker_reason":       st.BreakerReason,
		"daily_pnl_cents":      st.DailyPnLCents,
		"total_open_contracts": st.TotalOpenContracts,
		"open_markets":         st.OpenMarkets,
		"opportunities_seen":   st.OpportunitiesSeen,
		"executed":             st.Executed,
		"rejected":             st.Rejected,
	}
	if !st.BreakerUntil.IsZero() {
		resp["breaker_until"] = st.BreakerUntil.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
