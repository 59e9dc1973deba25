package services

import (
	"context"
	"time"

	"ledger/internal/models"
	"ledger/internal/store"
	"ledger/internal/wallet"
	"ledger/internal/websocket"
)

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByReference(ctx context.Context, reference string) (models.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.Transaction, error)
	MarkCancelled(ctx context.Context, tx store.Execer, transactionID string) (int64, error)
}

type BalanceStore interface {
	LockForUpdate(ctx context.Context, tx store.Tx, userID, currency string) (models.BalanceSnapshot, error)
	MainTotals(ctx context.Context, q store.Getter, userID string) (store.MainTotals, error)
	AffiliateTotals(ctx context.Context, q store.Getter, userID string) (store.AffiliateTotals, error)
	SaveSnapshot(ctx context.Context, tx store.Execer, snapshot models.BalanceSnapshot) error
}

type BetStore interface {
	Create(ctx context.Context, tx store.Execer, bet models.Bet) error
	GetByID(ctx context.Context, betID string) (models.Bet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, betID string) (models.Bet, error)
	GetByTransactionForUpdate(ctx context.Context, tx store.Getter, transactionID string) (models.Bet, error)
	Resolve(ctx context.Context, tx store.Execer, betID string, outcome models.BetOutcome, winAmount int64, winTransactionID *string, at time.Time) (int64, error)
	MarkCancelled(ctx context.Context, tx store.Execer, betID string, at time.Time) (int64, error)
}

type GameStore interface {
	GetByID(ctx context.Context, gameID string) (models.Game, error)
}

type CancellationStore interface {
	GetByReference(ctx context.Context, q store.Getter, reference string) (models.CancellationRecord, error)
	Create(ctx context.Context, tx store.Execer, record models.CancellationRecord) error
}

type RedemptionStore interface {
	Create(ctx context.Context, tx store.Execer, r models.Redemption) error
	GetByID(ctx context.Context, id string) (models.Redemption, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.Redemption, error)
	Approve(ctx context.Context, tx store.Execer, id string, instantTransactionID *string, actor string, at time.Time) (int64, error)
	Reject(ctx context.Context, tx store.Execer, id, reason, actor string, at time.Time) (int64, error)
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]string, error)
	MarkUnlocked(ctx context.Context, tx store.Execer, id string, unlockTransactionID *string, now time.Time) (int64, error)
}

type CommissionStore interface {
	ListUplines(ctx context.Context, userID string, maxLevels int) ([]models.AffiliateRelationship, error)
	CreateCommission(ctx context.Context, c models.Commission) (bool, error)
}

type CommissionCanceller interface {
	CancelBySource(ctx context.Context, tx store.Execer, sourceTransactionID string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error
}

// CategoryWallet is the per-category balance store.
type CategoryWallet interface {
	Adjust(ctx context.Context, userID, category string, delta int64, reference string) (wallet.Adjustment, error)
	Revert(ctx context.Context, userID, category, reference string) (bool, error)
	Get(ctx context.Context, userID, category string) (int64, error)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// CommissionNotifier receives monetary events after they commit. Notify must
// not block the caller.
type CommissionNotifier interface {
	Notify(event CommissionEvent)
}
