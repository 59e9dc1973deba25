package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ledger/internal/money"
	"ledger/internal/services"
	"ledger/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors to status codes. Anything it does
// not recognise is logged and reported as a 500 with the given fallback.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var insufficient *services.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":     "insufficient_funds",
			"wallet":    insufficient.Wallet,
			"available": money.FormatMinor(insufficient.Available),
			"requested": money.FormatMinor(insufficient.Requested),
		})
	case errors.Is(err, services.ErrInsufficientFunds):
		respondError(w, http.StatusUnprocessableEntity, "insufficient_funds")
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, services.ErrInvalidStateTransition):
		respondError(w, http.StatusConflict, "invalid_state_transition")
	case errors.Is(err, services.ErrNotCancellable):
		respondError(w, http.StatusConflict, "not_cancellable")
	case errors.Is(err, services.ErrDuplicateReference):
		respondError(w, http.StatusConflict, "duplicate_reference")
	case errors.Is(err, services.ErrExternalDependency):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("external dependency unavailable")
		respondError(w, http.StatusServiceUnavailable, "wallet_unavailable")
	case errors.Is(err, services.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, services.ErrBetOutOfRange):
		respondError(w, http.StatusBadRequest, "bet_out_of_range")
	case errors.Is(err, services.ErrGameInactive):
		respondError(w, http.StatusBadRequest, "game_inactive")
	case errors.Is(err, services.ErrBelowMinimumRedemption):
		respondError(w, http.StatusBadRequest, "below_minimum_redemption")
	case errors.Is(err, services.ErrInvalidOutcome):
		respondError(w, http.StatusBadRequest, "invalid_outcome")
	case errors.Is(err, validator.ErrInvalidCategory):
		respondError(w, http.StatusBadRequest, "invalid_category")
	case errors.Is(err, validator.ErrInvalidReference):
		respondError(w, http.StatusBadRequest, "invalid_reference")
	case errors.Is(err, validator.ErrInvalidReason):
		respondError(w, http.StatusBadRequest, "invalid_reason")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// pagination reads page and limit, capping limit at 100.
func pagination(r *http.Request) (int, int) {
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	if limit > 100 {
		limit = 100
	}
	return limit, (page - 1) * limit
}
