package handlers

import (
	"context"
	"net/http"

	"ledger/internal/auth"
	"ledger/internal/middleware"
	"ledger/internal/models"
	"ledger/internal/money"
	"ledger/internal/services"
	"ledger/internal/validator"
	"ledger/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type balanceResponse struct {
	UserID           string `json:"user_id"`
	Currency         string `json:"currency"`
	Balance          string `json:"balance"`
	Settled          string `json:"settled"`
	Locked           string `json:"locked"`
	AffiliateBalance string `json:"affiliate_balance"`
	AffiliateLocked  string `json:"affiliate_locked"`
}

func newBalanceResponse(info services.BalanceInfo) balanceResponse {
	return balanceResponse{
		UserID:           info.UserID,
		Currency:         info.Currency,
		Balance:          money.FormatMinor(info.Balance),
		Settled:          money.FormatMinor(info.Settled),
		Locked:           money.FormatMinor(info.Locked),
		AffiliateBalance: money.FormatMinor(info.AffiliateBalance),
		AffiliateLocked:  money.FormatMinor(info.AffiliateLocked),
	}
}

type categoryBalanceResponse struct {
	Category string `json:"category"`
	Balance  string `json:"balance"`
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	info, err := h.Balances.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(info))
}

func (h *Handler) ListCategoryBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balances, err := h.Wallets.ListByUser(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load category balances")
		return
	}
	out := make([]categoryBalanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, categoryBalanceResponse{Category: b.Category, Balance: money.FormatMinor(b.Balance)})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	category := r.URL.Query().Get("category")
	if err := validator.ValidateCategory(category); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_category")
		return
	}
	limit, offset := pagination(r)
	transactions, err := h.Transactions.ListByUser(r.Context(), userID, category, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, transactions)
}

type categoryTransferRequest struct {
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

func (h *Handler) AllocateToCategory(w http.ResponseWriter, r *http.Request) {
	h.categoryTransfer(w, r, h.Funds.AllocateToCategory)
}

func (h *Handler) ReleaseFromCategory(w http.ResponseWriter, r *http.Request) {
	h.categoryTransfer(w, r, h.Funds.ReleaseFromCategory)
}

type transferFunc func(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error)

type postFunc func(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error)

func (h *Handler) categoryTransfer(w http.ResponseWriter, r *http.Request, move transferFunc) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req categoryTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	result, err := move(r.Context(), userID, req.Category, amount)
	if err != nil {
		h.respondServiceError(w, r, err, "transfer failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"main_transaction":     result.Main,
		"category_transaction": result.Category,
		"balance":              newBalanceResponse(result.Balance),
		"category_balance":     money.FormatMinor(result.CategoryBalance),
	})
}

type fundsRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

func (h *Handler) AdminDeposit(w http.ResponseWriter, r *http.Request) {
	h.adminFunds(w, r, h.Funds.Deposit)
}

func (h *Handler) AdminWithdraw(w http.ResponseWriter, r *http.Request) {
	h.adminFunds(w, r, h.Funds.Withdraw)
}

func (h *Handler) adminFunds(w http.ResponseWriter, r *http.Request, post postFunc) {
	var req fundsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	record, info, err := post(r.Context(), chi.URLParam(r, "id"), amount, req.Reference)
	if err != nil {
		h.respondServiceError(w, r, err, "posting failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"transaction": record,
		"balance":     newBalanceResponse(info),
	})
}

func (h *Handler) RebuildSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.Balances.RebuildSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err, "unable to rebuild balance")
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(info))
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a websocket upgrade, so a query token
	// takes precedence over the Authorization header.
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = middleware.BearerToken(r); err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, auth.ErrInvalidToken.Error())
		return
	}
	initial := []websocket.BalanceUpdate{}
	if info, err := h.Balances.GetBalance(r.Context(), claims.UserID); err == nil {
		initial = append(initial, websocket.BalanceUpdate{
			Wallet:   websocket.WalletMain,
			Balance:  money.FormatMinor(info.Balance),
			Locked:   money.FormatMinor(info.Locked),
			Currency: info.Currency,
			Reason:   "snapshot",
		}, websocket.BalanceUpdate{
			Wallet:   websocket.WalletAffiliate,
			Balance:  money.FormatMinor(info.AffiliateBalance),
			Locked:   money.FormatMinor(info.AffiliateLocked),
			Currency: info.Currency,
			Reason:   "snapshot",
		})
	} else {
		h.log.Warn().Err(err).Str("user_id", claims.UserID).Msg("initial balance snapshot failed")
	}
	websocket.ServeWS(w, r, h.Hub, h.upgrader, claims.UserID, initial...)
}
