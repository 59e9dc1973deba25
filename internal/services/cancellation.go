package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger/internal/db"
	"ledger/internal/models"
	"ledger/internal/validator"
	"ledger/internal/wallet"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type CancelRequest struct {
	UserID            string
	ExternalReference string
	Reason            string
	CancelledBy       string
}

// CancellationResult is identical for the first call and every repeat;
// AlreadyCancelled tells them apart.
type CancellationResult struct {
	Record           models.CancellationRecord `json:"record"`
	AlreadyCancelled bool                      `json:"already_cancelled"`
}

type CancellationService struct {
	txRunner      db.TxRunner
	balances      *BalanceCalculator
	txs           TransactionStore
	bets          BetStore
	cancellations CancellationStore
	commissions   CommissionCanceller
	audit         AuditStore
	move          walletMove
	hub           BalanceHub
	log           zerolog.Logger
	now           func() time.Time
}

func NewCancellationService(txRunner db.TxRunner, balances *BalanceCalculator, txs TransactionStore, bets BetStore, cancellations CancellationStore, commissions CommissionCanceller, audit AuditStore, wallets CategoryWallet, hub BalanceHub, log zerolog.Logger) *CancellationService {
	log = log.With().Str("component", "cancellation").Logger()
	return &CancellationService{
		txRunner:      txRunner,
		balances:      balances,
		txs:           txs,
		bets:          bets,
		cancellations: cancellations,
		commissions:   commissions,
		audit:         audit,
		move:          walletMove{txRunner: txRunner, wallets: wallets, log: log},
		hub:           hub,
		log:           log,
		now:           time.Now,
	}
}

// reversalDelta is what cancelling t gives back to its wallet.
func reversalDelta(t models.Transaction) (int64, error) {
	switch t.Type {
	case models.TxBet:
		return t.Amount, nil
	case models.TxWin:
		return -t.Amount, nil
	default:
		return 0, ErrNotCancellable
	}
}

// Cancel reverses a bet or win identified by its external reference. Repeated
// calls return the stored record with AlreadyCancelled set and move nothing.
func (s *CancellationService) Cancel(ctx context.Context, req CancelRequest) (CancellationResult, error) {
	if err := validator.ValidateReference(req.ExternalReference); err != nil {
		return CancellationResult{}, err
	}
	if err := validator.ValidateReason(req.Reason); err != nil {
		return CancellationResult{}, err
	}
	reason := strings.TrimSpace(req.Reason)

	existing, err := s.cancellations.GetByReference(ctx, nil, req.ExternalReference)
	if err == nil {
		if existing.UserID != req.UserID {
			return CancellationResult{}, ErrNotFound
		}
		return CancellationResult{Record: existing, AlreadyCancelled: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CancellationResult{}, err
	}

	original, err := s.txs.GetByReference(ctx, req.ExternalReference)
	if err != nil {
		return CancellationResult{}, err
	}
	if original.UserID != req.UserID {
		return CancellationResult{}, ErrNotFound
	}
	delta, err := reversalDelta(original)
	if err != nil {
		return CancellationResult{}, err
	}
	if original.Status != models.TxStatusCompleted {
		return CancellationResult{}, ErrNotCancellable
	}

	category := original.CategoryName()
	adjustment := Entry{
		ID:                    uuid.NewString(),
		UserID:                original.UserID,
		Type:                  models.TxAdjustment,
		Amount:                delta,
		Category:              category,
		Reference:             "cancel:" + original.ID,
		ReversesTransactionID: original.ID,
		Metadata: map[string]any{
			"reason":       reason,
			"cancelled_by": req.CancelledBy,
			"original_ref": req.ExternalReference,
		},
	}

	var (
		result    CancellationResult
		info      BalanceInfo
		walletAdj wallet.Adjustment
	)
	unit := func(tx *sqlx.Tx, apply func(tx *sqlx.Tx) (int64, error)) error {
		if err := s.balances.Lock(ctx, tx, original.UserID); err != nil {
			return err
		}
		locked, err := s.txs.GetByReferenceForUpdate(ctx, tx, req.ExternalReference)
		if err != nil {
			return err
		}
		record, err := s.cancellations.GetByReference(ctx, tx, req.ExternalReference)
		if err == nil {
			result = CancellationResult{Record: record, AlreadyCancelled: true}
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if locked.Status != models.TxStatusCompleted {
			return ErrNotCancellable
		}

		after, err := apply(tx)
		if err != nil {
			return err
		}
		rows, err := s.txs.MarkCancelled(ctx, tx, locked.ID)
		if err != nil {
			return fmt.Errorf("mark transaction cancelled: %w", err)
		}
		if rows == 0 {
			return ErrNotCancellable
		}
		now := s.now()
		bet, err := s.bets.GetByTransactionForUpdate(ctx, tx, locked.ID)
		switch {
		case err == nil:
			if _, err := s.bets.MarkCancelled(ctx, tx, bet.ID, now); err != nil {
				return fmt.Errorf("mark bet cancelled: %w", err)
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		cancelled, err := s.commissions.CancelBySource(ctx, tx, locked.ID)
		if err != nil {
			return fmt.Errorf("cancel commissions: %w", err)
		}

		record = models.CancellationRecord{
			ID:                        uuid.NewString(),
			UserID:                    locked.UserID,
			OriginalTransactionID:     locked.ID,
			OriginalExternalReference: req.ExternalReference,
			OriginalType:              locked.Type,
			OriginalAmount:            locked.Amount,
			OriginalBalanceBefore:     locked.BalanceBefore,
			BalanceAdjustment:         delta,
			BalanceAfter:              after,
			AdjustmentTransactionID:   adjustment.ID,
			Reason:                    reason,
			CancelledBy:               req.CancelledBy,
			CreatedAt:                 now,
		}
		if err := s.cancellations.Create(ctx, tx, record); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrNotCancellable
			}
			return fmt.Errorf("record cancellation: %w", err)
		}
		if err := s.audit.Log(ctx, tx, req.CancelledBy, "transaction.cancelled", "transaction", locked.ID, map[string]any{
			"external_reference":   req.ExternalReference,
			"type":                 string(locked.Type),
			"amount":               locked.Amount,
			"balance_adjustment":   delta,
			"category":             category,
			"commissions_voided":   cancelled,
			"adjustment_tx_id":     adjustment.ID,
			"original_balance_pre": locked.BalanceBefore,
		}); err != nil {
			return fmt.Errorf("audit cancellation: %w", err)
		}
		if category == "" {
			if info, err = s.balances.SyncStoredBalance(ctx, tx, locked.UserID); err != nil {
				return err
			}
		}
		result = CancellationResult{Record: record}
		return nil
	}

	if category == "" {
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			return unit(tx, func(tx *sqlx.Tx) (int64, error) {
				record, _, err := s.balances.Post(ctx, tx, adjustment)
				if err != nil {
					return 0, err
				}
				return record.BalanceAfter, nil
			})
		})
	} else {
		walletRef := adjustment.Reference
		walletAdj, err = s.move.adjust(ctx, original.UserID, category, delta, walletRef)
		if err != nil {
			return CancellationResult{}, err
		}
		err = s.move.commit(ctx, original.UserID, category, walletRef, walletAdj, func(tx *sqlx.Tx) error {
			return unit(tx, func(tx *sqlx.Tx) (int64, error) {
				if _, err := s.balances.Append(ctx, tx, adjustment, walletAdj.Before, walletAdj.After); err != nil {
					return 0, err
				}
				return walletAdj.After, nil
			})
		})
	}
	if err != nil {
		return CancellationResult{}, err
	}
	if result.AlreadyCancelled {
		return result, nil
	}

	if s.hub != nil {
		if category == "" {
			s.hub.BroadcastBalance(original.UserID, info.update("cancellation"))
		} else {
			s.hub.BroadcastBalance(original.UserID, categoryUpdate(category, walletAdj.After, s.balances.Currency(), "cancellation"))
		}
	}
	s.log.Info().
		Str("transaction_id", original.ID).
		Str("external_reference", req.ExternalReference).
		Str("category", category).
		Int64("balance_adjustment", delta).
		Str("cancelled_by", req.CancelledBy).
		Msg("transaction cancelled")
	return result, nil
}
