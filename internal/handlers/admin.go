package handlers

import (
	"context"
	"net/http"
	"time"

	"ledger/internal/middleware"
	"ledger/internal/services"
)

type cancelRequest struct {
	UserID    string `json:"user_id"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.UserIDFromContext(r.Context())
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.Cancellations.Cancel(r.Context(), services.CancelRequest{
		UserID:            req.UserID,
		ExternalReference: req.Reference,
		Reason:            req.Reason,
		CancelledBy:       actor,
	})
	if err != nil {
		h.respondServiceError(w, r, err, "cancellation failed")
		return
	}
	status := http.StatusCreated
	if result.AlreadyCancelled {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	drift, err := h.Reconciler.ReconcileCategoryWallets(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err, "reconciliation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"consistent": len(drift) == 0,
		"drift":      drift,
	})
}

func (h *Handler) SnapshotDrift(w http.ResponseWriter, r *http.Request) {
	drift, err := h.Reconciler.SnapshotDrift(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err, "drift check failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"consistent": len(drift) == 0,
		"drift":      drift,
	})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := h.Audit.List(r.Context(), limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// Health reports degraded when Postgres or Redis does not answer.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	status := http.StatusOK
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.Wallets != nil {
		if err := h.Wallets.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	checks["status"] = "ok"
	if status != http.StatusOK {
		checks["status"] = "degraded"
	}
	respondJSON(w, status, checks)
}
