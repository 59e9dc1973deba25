package handlers

import (
	"context"

	"ledger/internal/models"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/wallet"
)

type BalanceService interface {
	GetBalance(ctx context.Context, userID string) (services.BalanceInfo, error)
	RebuildSnapshot(ctx context.Context, userID string) (services.BalanceInfo, error)
}

type CategoryWallets interface {
	ListByUser(ctx context.Context, userID string) ([]wallet.Balance, error)
	Ping(ctx context.Context) error
}

type TransactionStore interface {
	ListByUser(ctx context.Context, userID, category string, limit, offset int) ([]models.Transaction, error)
}

type BetStore interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Bet, error)
}

type SettlementService interface {
	PlaceBet(ctx context.Context, req services.PlaceBetRequest) (services.BetResult, error)
	ResolveBet(ctx context.Context, req services.ResolveBetRequest) (services.BetResult, error)
}

type CancellationService interface {
	Cancel(ctx context.Context, req services.CancelRequest) (services.CancellationResult, error)
}

type FundsService interface {
	Deposit(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error)
	Withdraw(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error)
	AllocateToCategory(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error)
	ReleaseFromCategory(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error)
}

type RedemptionService interface {
	RequestRedemption(ctx context.Context, userID string, amount int64) (models.Redemption, error)
	Approve(ctx context.Context, redemptionID, actor string) (models.Redemption, error)
	Reject(ctx context.Context, redemptionID, reason, actor string) (models.Redemption, error)
	SweepLockedReleases(ctx context.Context) (services.SweepResult, error)
}

type RedemptionStore interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Redemption, error)
}

type CommissionStore interface {
	ListCommissions(ctx context.Context, affiliateID string, limit, offset int) ([]models.Commission, error)
}

type Reconciler interface {
	ReconcileCategoryWallets(ctx context.Context) ([]services.CategoryDrift, error)
	SnapshotDrift(ctx context.Context) ([]store.SnapshotDrift, error)
}

type AdminStore interface {
	Access(ctx context.Context, userID, role string) (store.AdminAccess, error)
}

type AuditStore interface {
	List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}
