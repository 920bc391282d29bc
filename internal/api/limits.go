package api

import (
	"net/http"
	"time"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// GetLimits handles GET /api/v1/limits
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	st, err := h.limits.Get(r.Context(), ClaimsFrom(r.Context()).Subject)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// SetWagerLimit handles PUT /api/v1/limits/daily-wager. An amount of zero
// removes the cap once the cooling-off period has passed.
func (h *Handler) SetWagerLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency"`
		Amount   int64  `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	cur, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	st, err := h.limits.SetDailyWager(r.Context(), ClaimsFrom(r.Context()).Subject, cur, req.Amount)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// SelfExclude handles POST /api/v1/limits/exclusion
func (h *Handler) SelfExclude(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days   int    `json:"days"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	ex, err := h.limits.SelfExclude(r.Context(), ClaimsFrom(r.Context()).Subject, req.Reason,
		time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ex)
}
