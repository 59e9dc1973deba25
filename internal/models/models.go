package models

import "time"

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxBet        TransactionType = "bet"
	TxWin        TransactionType = "win"
	TxBonus      TransactionType = "bonus"
	TxCashback   TransactionType = "cashback"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "adjustment"
)

// Sign returns +1 for types that add to a balance and -1 for types that take
// from it. Adjustments carry their direction in the amount itself.
func (t TransactionType) Sign() int64 {
	switch t {
	case TxWithdrawal, TxBet:
		return -1
	default:
		return 1
	}
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxBet, TxWin, TxBonus, TxCashback, TxRefund, TxAdjustment:
		return true
	}
	return false
}

const (
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
)

type Transaction struct {
	ID                    string          `db:"id" json:"id"`
	UserID                string          `db:"user_id" json:"user_id"`
	Type                  TransactionType `db:"type" json:"type"`
	Amount                int64           `db:"amount" json:"amount"`
	BalanceBefore         int64           `db:"balance_before" json:"balance_before"`
	BalanceAfter          int64           `db:"balance_after" json:"balance_after"`
	Currency              string          `db:"currency" json:"currency"`
	Status                string          `db:"status" json:"status"`
	Category              *string         `db:"category" json:"category,omitempty"`
	ExternalReference     *string         `db:"external_reference" json:"external_reference,omitempty"`
	ReversesTransactionID *string         `db:"reverses_transaction_id" json:"reverses_transaction_id,omitempty"`
	Metadata              string          `db:"metadata" json:"metadata"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// SignedAmount is the effect of the transaction on its wallet.
func (t Transaction) SignedAmount() int64 {
	return t.Type.Sign() * t.Amount
}

func (t Transaction) CategoryName() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}

type BetOutcome string

const (
	OutcomePending   BetOutcome = "pending"
	OutcomeWin       BetOutcome = "win"
	OutcomeLose      BetOutcome = "lose"
	OutcomeCancelled BetOutcome = "cancelled"
)

type Bet struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	GameID           string     `db:"game_id" json:"game_id"`
	Category         *string    `db:"category" json:"category,omitempty"`
	TransactionID    string     `db:"transaction_id" json:"transaction_id"`
	WinTransactionID *string    `db:"win_transaction_id" json:"win_transaction_id,omitempty"`
	BetAmount        int64      `db:"bet_amount" json:"bet_amount"`
	WinAmount        int64      `db:"win_amount" json:"win_amount"`
	Outcome          BetOutcome `db:"outcome" json:"outcome"`
	PlacedAt         time.Time  `db:"placed_at" json:"placed_at"`
	ResultAt         *time.Time `db:"result_at" json:"result_at,omitempty"`
}

type Game struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Category string `db:"category" json:"category"`
	MinBet   int64  `db:"min_bet" json:"min_bet"`
	MaxBet   int64  `db:"max_bet" json:"max_bet"`
	IsActive bool   `db:"is_active" json:"is_active"`
}

type CancellationRecord struct {
	ID                        string          `db:"id" json:"id"`
	UserID                    string          `db:"user_id" json:"user_id"`
	OriginalTransactionID     string          `db:"original_transaction_id" json:"original_transaction_id"`
	OriginalExternalReference string          `db:"original_external_reference" json:"original_external_reference"`
	OriginalType              TransactionType `db:"original_type" json:"original_type"`
	OriginalAmount            int64           `db:"original_amount" json:"original_amount"`
	OriginalBalanceBefore     int64           `db:"original_balance_before" json:"original_balance_before"`
	BalanceAdjustment         int64           `db:"balance_adjustment" json:"balance_adjustment"`
	BalanceAfter              int64           `db:"balance_after" json:"balance_after"`
	AdjustmentTransactionID   string          `db:"adjustment_transaction_id" json:"adjustment_transaction_id"`
	Reason                    string          `db:"reason" json:"reason"`
	CancelledBy               string          `db:"cancelled_by" json:"cancelled_by"`
	CreatedAt                 time.Time       `db:"created_at" json:"created_at"`
}

const (
	RedemptionRequested = "requested"
	RedemptionApproved  = "approved"
	RedemptionRejected  = "rejected"

	InstantPending   = "pending"
	InstantCompleted = "completed"
	InstantRejected  = "rejected"

	LockedLocked    = "locked"
	LockedUnlocked  = "unlocked"
	LockedCancelled = "cancelled"
)

type Redemption struct {
	ID                   string    `db:"id" json:"id"`
	UserID               string    `db:"user_id" json:"user_id"`
	Status               string    `db:"status" json:"status"`
	TotalAmount          int64     `db:"total_amount" json:"total_amount"`
	InstantAmount        int64     `db:"instant_amount" json:"instant_amount"`
	LockedAmount         int64     `db:"locked_amount" json:"locked_amount"`
	InstantStatus        string    `db:"instant_status" json:"instant_status"`
	LockedStatus         string    `db:"locked_status" json:"locked_status"`
	UnlockDate           time.Time `db:"unlock_date" json:"unlock_date"`
	InstantTransactionID *string   `db:"instant_transaction_id" json:"instant_transaction_id,omitempty"`
	UnlockTransactionID  *string   `db:"unlock_transaction_id" json:"unlock_transaction_id,omitempty"`
	RejectionReason      *string   `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ProcessedBy          *string   `db:"processed_by" json:"processed_by,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

type AffiliateRelationship struct {
	AffiliateID    string `db:"affiliate_id" json:"affiliate_id"`
	ReferredUserID string `db:"referred_user_id" json:"referred_user_id"`
	Level          int    `db:"level" json:"level"`
}

type CommissionType string

const (
	CommissionBetRevenue  CommissionType = "bet_revenue"
	CommissionWinRevenue  CommissionType = "win_revenue"
	CommissionLossRevenue CommissionType = "loss_revenue"
)

const (
	CommissionPending   = "pending"
	CommissionApproved  = "approved"
	CommissionPaid      = "paid"
	CommissionCancelled = "cancelled"
)

type Commission struct {
	ID                  string         `db:"id" json:"id"`
	AffiliateID         string         `db:"affiliate_id" json:"affiliate_id"`
	ReferredUserID      string         `db:"referred_user_id" json:"referred_user_id"`
	SourceTransactionID string         `db:"source_transaction_id" json:"source_transaction_id"`
	Level               int            `db:"level" json:"level"`
	CommissionType      CommissionType `db:"commission_type" json:"commission_type"`
	Rate                string         `db:"rate" json:"rate"`
	BaseAmount          int64          `db:"base_amount" json:"base_amount"`
	Amount              int64          `db:"amount" json:"amount"`
	Status              string         `db:"status" json:"status"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
}

// BalanceSnapshot is the cached projection of the log kept in user_balances.
type BalanceSnapshot struct {
	UserID           string    `db:"user_id" json:"user_id"`
	Currency         string    `db:"currency" json:"currency"`
	Balance          int64     `db:"balance" json:"balance"`
	LockedBalance    int64     `db:"locked_balance" json:"locked_balance"`
	AffiliateBalance int64     `db:"affiliate_balance" json:"affiliate_balance"`
	AffiliateLocked  int64     `db:"affiliate_locked" json:"affiliate_locked"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
