package services

import (
	"context"
	"fmt"

	"ledger/internal/store"
	"ledger/internal/wallet"

	"github.com/rs/zerolog"
)

type CategoryTotaller interface {
	CategoryTotals(ctx context.Context) ([]store.CategoryTotal, error)
}

type WalletLister interface {
	All(ctx context.Context) ([]wallet.Balance, error)
}

type DriftLister interface {
	ListDrift(ctx context.Context) ([]store.SnapshotDrift, error)
}

// CategoryDrift is a category wallet whose stored balance disagrees with the
// sum of its log entries.
type CategoryDrift struct {
	UserID   string `json:"user_id"`
	Category string `json:"category"`
	Wallet   int64  `json:"wallet"`
	Ledger   int64  `json:"ledger"`
}

func (d CategoryDrift) Difference() int64 {
	return d.Wallet - d.Ledger
}

// Reconciler compares the two stores. It reports and never repairs; repairs
// go through cancellations or admin adjustments so they stay in the log.
type Reconciler struct {
	txs       CategoryTotaller
	wallets   WalletLister
	snapshots DriftLister
	log       zerolog.Logger
}

func NewReconciler(txs CategoryTotaller, wallets WalletLister, snapshots DriftLister, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		txs:       txs,
		wallets:   wallets,
		snapshots: snapshots,
		log:       log.With().Str("component", "reconcile").Logger(),
	}
}

func (r *Reconciler) ReconcileCategoryWallets(ctx context.Context) ([]CategoryDrift, error) {
	totals, err := r.txs.CategoryTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	balances, err := r.wallets.All(ctx)
	if err != nil {
		return nil, err
	}

	type key struct{ user, category string }
	ledger := make(map[key]int64, len(totals))
	for _, t := range totals {
		ledger[key{t.UserID, t.Category}] = t.Total
	}

	var drift []CategoryDrift
	for _, b := range balances {
		k := key{b.UserID, b.Category}
		expected := ledger[k]
		delete(ledger, k)
		if b.Balance != expected {
			drift = append(drift, CategoryDrift{UserID: b.UserID, Category: b.Category, Wallet: b.Balance, Ledger: expected})
		}
	}
	for k, total := range ledger {
		if total != 0 {
			drift = append(drift, CategoryDrift{UserID: k.user, Category: k.category, Ledger: total})
		}
	}

	for _, d := range drift {
		r.log.Warn().
			Str("user_id", d.UserID).
			Str("category", d.Category).
			Int64("wallet", d.Wallet).
			Int64("ledger", d.Ledger).
			Int64("difference", d.Difference()).
			Msg("category wallet drift")
	}
	r.log.Info().Int("wallets", len(balances)).Int("drift", len(drift)).Msg("category reconciliation finished")
	return drift, nil
}

// SnapshotDrift lists cached balance rows that no longer match the log.
func (r *Reconciler) SnapshotDrift(ctx context.Context) ([]store.SnapshotDrift, error) {
	rows, err := r.snapshots.ListDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot drift: %w", err)
	}
	return rows, nil
}
