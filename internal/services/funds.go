package services

import (
	"context"
	"fmt"

	"ledger/internal/db"
	"ledger/internal/models"
	"ledger/internal/validator"
	"ledger/internal/wallet"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// FundsService moves money into, out of and between a user's wallets.
type FundsService struct {
	txRunner db.TxRunner
	balances *BalanceCalculator
	move     walletMove
	hub      BalanceHub
	log      zerolog.Logger
}

func NewFundsService(txRunner db.TxRunner, balances *BalanceCalculator, wallets CategoryWallet, hub BalanceHub, log zerolog.Logger) *FundsService {
	log = log.With().Str("component", "funds").Logger()
	return &FundsService{
		txRunner: txRunner,
		balances: balances,
		move:     walletMove{txRunner: txRunner, wallets: wallets, log: log},
		hub:      hub,
		log:      log,
	}
}

type TransferResult struct {
	Main     models.Transaction `json:"main"`
	Category models.Transaction `json:"category"`
	Balance  BalanceInfo        `json:"balance"`
	// CategoryBalance is the category wallet after the transfer.
	CategoryBalance int64 `json:"category_balance"`
}

func (s *FundsService) Deposit(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, BalanceInfo, error) {
	return s.post(ctx, userID, models.TxDeposit, amount, reference)
}

func (s *FundsService) Withdraw(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, BalanceInfo, error) {
	return s.post(ctx, userID, models.TxWithdrawal, amount, reference)
}

func (s *FundsService) post(ctx context.Context, userID string, kind models.TransactionType, amount int64, reference string) (models.Transaction, BalanceInfo, error) {
	if amount <= 0 {
		return models.Transaction{}, BalanceInfo{}, ErrInvalidAmount
	}
	if reference != "" {
		if err := validator.ValidateReference(reference); err != nil {
			return models.Transaction{}, BalanceInfo{}, err
		}
	}
	var (
		record models.Transaction
		info   BalanceInfo
	)
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		record, info, err = s.balances.Post(ctx, tx, Entry{
			UserID:    userID,
			Type:      kind,
			Amount:    amount,
			Reference: reference,
		})
		return err
	})
	if err != nil {
		return models.Transaction{}, BalanceInfo{}, err
	}
	if s.hub != nil {
		s.hub.BroadcastBalance(userID, info.update(string(kind)))
	}
	s.log.Info().
		Str("transaction_id", record.ID).
		Str("user_id", userID).
		Str("type", string(kind)).
		Int64("amount", amount).
		Msg("main wallet posted")
	return record, info, nil
}

// AllocateToCategory moves amount from the main wallet into a category
// wallet. The main debit is checked first so a short main balance never
// touches the category store.
func (s *FundsService) AllocateToCategory(ctx context.Context, userID, category string, amount int64) (TransferResult, error) {
	if err := validateTransfer(category, amount); err != nil {
		return TransferResult{}, err
	}
	transferID := uuid.NewString()
	walletRef := "allocate:" + transferID

	var (
		result  TransferResult
		adj     wallet.Adjustment
		applied bool
	)
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		main, info, err := s.balances.Post(ctx, tx, Entry{
			UserID:    userID,
			Type:      models.TxAdjustment,
			Amount:    -amount,
			Reference: walletRef + ":main",
			Metadata:  map[string]any{"transfer_id": transferID, "to_category": category},
		})
		if err != nil {
			return err
		}
		adj, err = s.move.adjust(ctx, userID, category, amount, walletRef)
		if err != nil {
			return err
		}
		if !adj.Replayed {
			applied = true
		}
		credit, err := s.balances.Append(ctx, tx, Entry{
			UserID:    userID,
			Type:      models.TxAdjustment,
			Amount:    amount,
			Category:  category,
			Reference: walletRef,
			Metadata:  map[string]any{"transfer_id": transferID, "from": "main"},
		}, adj.Before, adj.After)
		if err != nil {
			return err
		}
		result = TransferResult{Main: main, Category: credit, Balance: info, CategoryBalance: adj.After}
		return nil
	})
	if err != nil {
		if applied {
			s.revert(ctx, userID, category, walletRef, err)
		}
		return TransferResult{}, err
	}
	s.broadcastTransfer(userID, category, result, "allocation")
	return result, nil
}

// ReleaseFromCategory moves amount from a category wallet back to main.
func (s *FundsService) ReleaseFromCategory(ctx context.Context, userID, category string, amount int64) (TransferResult, error) {
	if err := validateTransfer(category, amount); err != nil {
		return TransferResult{}, err
	}
	transferID := uuid.NewString()
	walletRef := "release:" + transferID

	adj, err := s.move.adjust(ctx, userID, category, -amount, walletRef)
	if err != nil {
		return TransferResult{}, err
	}
	var result TransferResult
	err = s.move.commit(ctx, userID, category, walletRef, adj, func(tx *sqlx.Tx) error {
		if err := s.balances.Lock(ctx, tx, userID); err != nil {
			return err
		}
		debit, err := s.balances.Append(ctx, tx, Entry{
			UserID:    userID,
			Type:      models.TxAdjustment,
			Amount:    -amount,
			Category:  category,
			Reference: walletRef,
			Metadata:  map[string]any{"transfer_id": transferID, "to": "main"},
		}, adj.Before, adj.After)
		if err != nil {
			return err
		}
		main, info, err := s.balances.Post(ctx, tx, Entry{
			UserID:    userID,
			Type:      models.TxAdjustment,
			Amount:    amount,
			Reference: walletRef + ":main",
			Metadata:  map[string]any{"transfer_id": transferID, "from_category": category},
		})
		if err != nil {
			return err
		}
		result = TransferResult{Main: main, Category: debit, Balance: info, CategoryBalance: adj.After}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.broadcastTransfer(userID, category, result, "release")
	return result, nil
}

func validateTransfer(category string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if category == "" {
		return fmt.Errorf("%w: category is required", validator.ErrInvalidCategory)
	}
	return validator.ValidateCategory(category)
}

func (s *FundsService) revert(ctx context.Context, userID, category, reference string, cause error) {
	if _, err := s.move.wallets.Revert(context.WithoutCancel(ctx), userID, category, reference); err != nil {
		s.log.Error().
			Err(err).
			AnErr("cause", cause).
			Str("user_id", userID).
			Str("category", category).
			Str("reference", reference).
			Msg("category wallet revert failed; left for reconciliation")
	}
}

func (s *FundsService) broadcastTransfer(userID, category string, result TransferResult, reason string) {
	if s.hub != nil {
		s.hub.BroadcastBalance(userID, result.Balance.update(reason))
		s.hub.BroadcastBalance(userID, categoryUpdate(category, result.CategoryBalance, s.balances.Currency(), reason))
	}
	s.log.Info().
		Str("user_id", userID).
		Str("category", category).
		Int64("amount", result.Category.Amount).
		Str("reason", reason).
		Msg("category transfer committed")
}
