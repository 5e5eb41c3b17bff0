package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
)

// JournalController exposes finished attempts.
type JournalController struct {
	repo  payment.Repository
	limit int
}

func NewJournalController(repo payment.Repository, defaultLimit int) *JournalController {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &JournalController{repo: repo, limit: defaultLimit}
}

// ListAttempts handles GET /api/v1/payment/attempts
func (h *JournalController) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", h.limit, 1, 500)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := payment.ListFilter{Limit: limit}
	if s := r.URL.Query().Get("state"); s != "" {
		state := payment.State(s)
		if !state.IsTerminal() && state != payment.StateIdle {
			writeError(w, errors.NewValidationError("state", "must be a final state"))
			return
		}
		filter.State = &state
	}

	attempts, err := h.repo.ListRecent(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": FromAttempts(attempts)})
}

// Totals handles GET /api/v1/payment/attempts/totals
func (h *JournalController) Totals(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, errors.NewValidationError("day", "must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	totals, err := h.repo.Totals(r.Context(), day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":    day.Format(time.DateOnly),
		"totals": totals,
	})
}
