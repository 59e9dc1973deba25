package services

import (
	"context"
	"errors"

	"ledger/internal/db"
	"ledger/internal/money"
	"ledger/internal/wallet"
	"ledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// walletMove ties a category wallet adjustment to the relational unit of work
// that records it. The two stores share no transaction, so a failed unit of
// work is compensated by reverting the adjustment through its reference.
//
// The wallet is adjusted before the unit of work takes its row locks, so a
// credit is briefly visible in Redis before the state it depends on is
// re-checked. A category win is the main case: a concurrent Cancel or a
// second ResolveBet for the same bet makes the locked pending check fail and
// the credit is reverted. If the owner already spent the credit in that
// window the revert is refused for insufficient balance, the amount stays in
// the wallet and surfaces only as reconciliation drift.
type walletMove struct {
	txRunner db.TxRunner
	wallets  CategoryWallet
	log      zerolog.Logger
}

func (m walletMove) adjust(ctx context.Context, userID, category string, delta int64, reference string) (wallet.Adjustment, error) {
	adj, err := m.wallets.Adjust(ctx, userID, category, delta, reference)
	if err == nil {
		return adj, nil
	}
	if errors.Is(err, wallet.ErrInsufficientBalance) {
		return adj, &InsufficientFundsError{
			Wallet:    websocket.WalletCategory,
			Available: adj.Before,
			Requested: -delta,
		}
	}
	return adj, err
}

// commit runs fn and reverts the adjustment when it fails. A replayed
// adjustment belongs to an earlier attempt and is left alone.
func (m walletMove) commit(ctx context.Context, userID, category, reference string, adj wallet.Adjustment, fn func(*sqlx.Tx) error) error {
	err := m.txRunner.WithTx(ctx, fn)
	if err == nil || adj.Replayed {
		return err
	}
	if _, revertErr := m.wallets.Revert(context.WithoutCancel(ctx), userID, category, reference); revertErr != nil {
		m.log.Error().
			Err(revertErr).
			AnErr("cause", err).
			Str("user_id", userID).
			Str("category", category).
			Str("reference", reference).
			Msg("category wallet revert failed; left for reconciliation")
	}
	return err
}

func categoryUpdate(category string, balance int64, currency, reason string) websocket.BalanceUpdate {
	return websocket.BalanceUpdate{
		Wallet:   websocket.WalletCategory,
		Category: category,
		Balance:  money.FormatMinor(balance),
		Currency: currency,
		Reason:   reason,
	}
}
