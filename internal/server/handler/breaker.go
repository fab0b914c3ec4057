package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/arbot/internal/risk"
)

// BreakerControl is the operator surface of the circuit breaker.
type BreakerControl interface {
	Status() (risk.State, string, time.Time)
	Rearm()
	Trip(reason string)
}

// BreakerHandler exposes breaker inspection and manual override.
type BreakerHandler struct {
	breaker BreakerControl
	logger  *slog.Logger
}

// NewBreakerHandler creates a BreakerHandler.
func NewBreakerHandler(breaker BreakerControl, logger *slog.Logger) *BreakerHandler {
	return &BreakerHandler{breaker: breaker, logger: logger}
}

// GetBreaker responds with the current breaker state.
// GET /api/breaker
func (h *BreakerHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	state, reason, until := h.breaker.Status()
	resp := map[string]any{
		"state":  state,
		"reason": reason,
	}
	if !until.IsZero() {
		resp["until"] = until.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rearm clears a halt ahead of its cooldown. Operator action, logged.
// POST /api/breaker/rearm
func (h *BreakerHandler) Rearm(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "breaker rearmed via API",
		slog.String("remote_addr", r.RemoteAddr),
	)
	h.breaker.Rearm()
	writeJSON(w, http.StatusOK, map[string]string{"state": "armed"})
}

// Trip halts execution manually.
// POST /api/breaker/trip
func (h *BreakerHandler) Trip(w http.ResponseWriter, r *http.Request) {
	h.logger.WarnContext(r.Context(), "breaker tripped via API",
		slog.String("remote_addr", r.RemoteAddr),
	)
	h.breaker.Trip("manual trip via API")
	writeJSON(w, http.StatusOK, map[string]string{"state": "halted"})
}
