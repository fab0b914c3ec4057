package handler

import (
	"log/slog"
	"net/http"

	"github.com/quantfold/arbot/internal/domain"
)

// OpportunityHandler serves recently detected opportunities.
type OpportunityHandler struct {
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler backed by the given
// store. The store may be nil when persistence is disabled.
func NewOpportunityHandler(store domain.OpportunityStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{store: store, logger: logger}
}

// ListRecent responds with the most recent opportunities, newest first.
// GET /api/opportunities/recent?limit=50
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, []domain.Opportunity{})
		return
	}

	opps, err := h.store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}
