package handlers

import (
	"net/http"

	"ledger/internal/middleware"
	"ledger/internal/services"

	"github.com/go-chi/chi/v5"
)

type placeBetRequest struct {
	GameID    string `json:"game_id"`
	Amount    string `json:"amount"`
	Category  string `json:"category"`
	Reference string `json:"reference"`
}

func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil || req.GameID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	result, err := h.Settlement.PlaceBet(r.Context(), services.PlaceBetRequest{
		UserID:            userID,
		GameID:            req.GameID,
		Amount:            amount,
		Category:          req.Category,
		ExternalReference: req.Reference,
	})
	if err != nil {
		h.respondServiceError(w, r, err, "bet failed")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListBets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := pagination(r)
	bets, err := h.Bets.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load bets")
		return
	}
	respondJSON(w, http.StatusOK, bets)
}

type resolveBetRequest struct {
	Outcome   string `json:"outcome"`
	WinAmount string `json:"win_amount"`
	Reference string `json:"reference"`
}

func (h *Handler) ResolveBet(w http.ResponseWriter, r *http.Request) {
	var req resolveBetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_outcome")
		return
	}
	winAmount, err := parseWinAmount(req.WinAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	result, err := h.Settlement.ResolveBet(r.Context(), services.ResolveBetRequest{
		BetID:             chi.URLParam(r, "id"),
		Outcome:           outcome,
		WinAmount:         winAmount,
		ExternalReference: req.Reference,
	})
	if err != nil {
		h.respondServiceError(w, r, err, "resolve failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
