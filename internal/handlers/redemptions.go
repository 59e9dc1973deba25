package handlers

import (
	"net/http"

	"ledger/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type redemptionRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req redemptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	redemption, err := h.Redemptions.RequestRedemption(r.Context(), userID, amount)
	if err != nil {
		h.respondServiceError(w, r, err, "redemption failed")
		return
	}
	respondJSON(w, http.StatusCreated, redemption)
}

func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := pagination(r)
	redemptions, err := h.RedemptionLog.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load redemptions")
		return
	}
	respondJSON(w, http.StatusOK, redemptions)
}

func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := pagination(r)
	commissions, err := h.Commissions.ListCommissions(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load commissions")
		return
	}
	respondJSON(w, http.StatusOK, commissions)
}

func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.UserIDFromContext(r.Context())
	redemption, err := h.Redemptions.Approve(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.respondServiceError(w, r, err, "approval failed")
		return
	}
	respondJSON(w, http.StatusOK, redemption)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.UserIDFromContext(r.Context())
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	redemption, err := h.Redemptions.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		h.respondServiceError(w, r, err, "rejection failed")
		return
	}
	respondJSON(w, http.StatusOK, redemption)
}

func (h *Handler) SweepRedemptions(w http.ResponseWriter, r *http.Request) {
	result, err := h.Redemptions.SweepLockedReleases(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err, "sweep failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
