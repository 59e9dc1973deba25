package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger/internal/db"
	"ledger/internal/models"
	"ledger/internal/money"
	"ledger/internal/store"
	"ledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// BalanceInfo is a user's main and affiliate wallets derived from the log.
type BalanceInfo struct {
	UserID           string `json:"user_id"`
	Currency         string `json:"currency"`
	Balance          int64  `json:"balance"`
	Settled          int64  `json:"settled"`
	Locked           int64  `json:"locked"`
	AffiliateBalance int64  `json:"affiliate_balance"`
	AffiliateLocked  int64  `json:"affiliate_locked"`
}

func (b BalanceInfo) snapshot() models.BalanceSnapshot {
	return models.BalanceSnapshot{
		UserID:           b.UserID,
		Currency:         b.Currency,
		Balance:          b.Balance,
		LockedBalance:    b.Locked,
		AffiliateBalance: b.AffiliateBalance,
		AffiliateLocked:  b.AffiliateLocked,
	}
}

func (b BalanceInfo) update(reason string) websocket.BalanceUpdate {
	return websocket.BalanceUpdate{
		Wallet:   websocket.WalletMain,
		Balance:  money.FormatMinor(b.Balance),
		Locked:   money.FormatMinor(b.Locked),
		Currency: b.Currency,
		Reason:   reason,
	}
}

// Entry is one transaction to append to the log. Category is empty for the
// main wallet.
type Entry struct {
	ID                    string
	UserID                string
	Type                  models.TransactionType
	Amount                int64
	Category              string
	Reference             string
	ReversesTransactionID string
	Metadata              map[string]any
}

// Delta is the entry's effect on its wallet.
func (e Entry) Delta() int64 {
	if e.Type == models.TxAdjustment {
		return e.Amount
	}
	return e.Type.Sign() * e.Amount
}

func (e Entry) validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q", e.Type)
	}
	if e.Type == models.TxAdjustment {
		if e.Amount == 0 {
			return ErrInvalidAmount
		}
		return nil
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceCalculator owns the main wallet. The balance is always derived from
// the transaction log; user_balances is a cache that doubles as the per-user
// lock row.
type BalanceCalculator struct {
	txRunner db.TxRunner
	balances BalanceStore
	txs      TransactionStore
	currency string
	now      func() time.Time
}

func NewBalanceCalculator(txRunner db.TxRunner, balances BalanceStore, txs TransactionStore, currency string) *BalanceCalculator {
	return &BalanceCalculator{
		txRunner: txRunner,
		balances: balances,
		txs:      txs,
		currency: currency,
		now:      time.Now,
	}
}

func (c *BalanceCalculator) GetBalance(ctx context.Context, userID string) (BalanceInfo, error) {
	return c.derive(ctx, nil, userID)
}

func (c *BalanceCalculator) derive(ctx context.Context, q store.Getter, userID string) (BalanceInfo, error) {
	main, err := c.balances.MainTotals(ctx, q, userID)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("derive main balance: %w", err)
	}
	affiliate, err := c.balances.AffiliateTotals(ctx, q, userID)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("derive affiliate balance: %w", err)
	}
	return BalanceInfo{
		UserID:           userID,
		Currency:         c.currency,
		Balance:          main.Available(),
		Settled:          main.Settled,
		Locked:           main.Locked,
		AffiliateBalance: affiliate.Available(),
		AffiliateLocked:  affiliate.Held,
	}, nil
}

// Lock takes the user's row lock for the rest of the transaction.
func (c *BalanceCalculator) Lock(ctx context.Context, tx store.Tx, userID string) error {
	_, err := c.balances.LockForUpdate(ctx, tx, userID, c.currency)
	if err != nil {
		return fmt.Errorf("lock balance row: %w", err)
	}
	return nil
}

// SyncStoredBalance re-derives the balance inside tx and writes the snapshot.
func (c *BalanceCalculator) SyncStoredBalance(ctx context.Context, tx store.Tx, userID string) (BalanceInfo, error) {
	info, err := c.derive(ctx, tx, userID)
	if err != nil {
		return BalanceInfo{}, err
	}
	if err := c.balances.SaveSnapshot(ctx, tx, info.snapshot()); err != nil {
		return BalanceInfo{}, fmt.Errorf("save balance snapshot: %w", err)
	}
	return info, nil
}

// RebuildSnapshot replays the log for a user and overwrites the cached row.
func (c *BalanceCalculator) RebuildSnapshot(ctx context.Context, userID string) (BalanceInfo, error) {
	var info BalanceInfo
	err := c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.Lock(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		info, err = c.SyncStoredBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return BalanceInfo{}, err
	}
	return info, nil
}

// Post is the only write path for main wallet entries. It locks the user,
// derives the current balance, refuses to go negative, appends the entry and
// stores the resulting snapshot.
func (c *BalanceCalculator) Post(ctx context.Context, tx store.Tx, e Entry) (models.Transaction, BalanceInfo, error) {
	if e.Category != "" {
		return models.Transaction{}, BalanceInfo{}, fmt.Errorf("post: category %q entries go through the category wallet", e.Category)
	}
	if err := e.validate(); err != nil {
		return models.Transaction{}, BalanceInfo{}, err
	}
	if err := c.Lock(ctx, tx, e.UserID); err != nil {
		return models.Transaction{}, BalanceInfo{}, err
	}
	info, err := c.derive(ctx, tx, e.UserID)
	if err != nil {
		return models.Transaction{}, BalanceInfo{}, err
	}
	delta := e.Delta()
	after := info.Balance + delta
	if after < 0 {
		return models.Transaction{}, BalanceInfo{}, &InsufficientFundsError{
			Wallet:    websocket.WalletMain,
			Available: info.Balance,
			Requested: -delta,
		}
	}
	record, err := c.Append(ctx, tx, e, info.Balance, after)
	if err != nil {
		return models.Transaction{}, BalanceInfo{}, err
	}
	info.Settled += delta
	info.Balance = after
	if err := c.balances.SaveSnapshot(ctx, tx, info.snapshot()); err != nil {
		return models.Transaction{}, BalanceInfo{}, fmt.Errorf("save balance snapshot: %w", err)
	}
	return record, info, nil
}

// Append writes an entry whose before and after balances are already known.
// Category wallet moves use it directly with the values the wallet reported.
func (c *BalanceCalculator) Append(ctx context.Context, tx store.Execer, e Entry, before, after int64) (models.Transaction, error) {
	if err := e.validate(); err != nil {
		return models.Transaction{}, err
	}
	metadata := "{}"
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	record := models.Transaction{
		ID:            id,
		UserID:        e.UserID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Currency:      c.currency,
		Status:        models.TxStatusCompleted,
		Category:      optional(e.Category),
		Metadata:      metadata,
		CreatedAt:     c.now(),
	}
	record.ExternalReference = optional(e.Reference)
	record.ReversesTransactionID = optional(e.ReversesTransactionID)
	err := c.txs.Create(ctx, tx, store.TransactionInput{
		ID:                    record.ID,
		UserID:                record.UserID,
		Type:                  record.Type,
		Amount:                record.Amount,
		BalanceBefore:         before,
		BalanceAfter:          after,
		Currency:              record.Currency,
		Category:              record.Category,
		ExternalReference:     record.ExternalReference,
		ReversesTransactionID: record.ReversesTransactionID,
		Metadata:              metadata,
	})
	if err != nil {
		if db.IsUniqueViolation(err) && e.Reference != "" {
			return models.Transaction{}, fmt.Errorf("%w: %s", ErrDuplicateReference, e.Reference)
		}
		return models.Transaction{}, err
	}
	return record, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (c *BalanceCalculator) Currency() string {
	return c.currency
}
