package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/db"
	"ledger/internal/models"
	"ledger/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// OutcomeGenerator decides how a round ends. The ledger only consumes the
// result.
type OutcomeGenerator interface {
	Outcome(ctx context.Context, bet models.Bet) (models.BetOutcome, int64, error)
}

type SettlementService struct {
	txRunner db.TxRunner
	balances *BalanceCalculator
	bets     BetStore
	games    GameStore
	move     walletMove
	hub      BalanceHub
	notifier CommissionNotifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewSettlementService(txRunner db.TxRunner, balances *BalanceCalculator, bets BetStore, games GameStore, wallets CategoryWallet, hub BalanceHub, notifier CommissionNotifier, log zerolog.Logger) *SettlementService {
	log = log.With().Str("component", "settlement").Logger()
	return &SettlementService{
		txRunner: txRunner,
		balances: balances,
		bets:     bets,
		games:    games,
		move:     walletMove{txRunner: txRunner, wallets: wallets, log: log},
		hub:      hub,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

type PlaceBetRequest struct {
	UserID            string
	GameID            string
	Amount            int64
	Category          string
	ExternalReference string
}

type ResolveBetRequest struct {
	BetID             string
	Outcome           models.BetOutcome
	WinAmount         int64
	ExternalReference string
}

// BetResult carries the bet, the transaction the call appended (nil when
// nothing moved) and the balance of the wallet the bet lives in.
type BetResult struct {
	Bet         models.Bet          `json:"bet"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Balance     int64               `json:"balance"`
}

type RoundResult struct {
	Bet     models.Bet          `json:"bet"`
	Stake   models.Transaction  `json:"stake"`
	Win     *models.Transaction `json:"win,omitempty"`
	Balance int64               `json:"balance"`
}

func (s *SettlementService) PlaceBet(ctx context.Context, req PlaceBetRequest) (BetResult, error) {
	if req.Amount <= 0 {
		return BetResult{}, ErrInvalidAmount
	}
	if err := validator.ValidateCategory(req.Category); err != nil {
		return BetResult{}, err
	}
	if req.ExternalReference != "" {
		if err := validator.ValidateReference(req.ExternalReference); err != nil {
			return BetResult{}, err
		}
	}
	game, err := s.games.GetByID(ctx, req.GameID)
	if err != nil {
		return BetResult{}, err
	}
	if !game.IsActive {
		return BetResult{}, ErrGameInactive
	}
	if req.Amount < game.MinBet || req.Amount > game.MaxBet {
		return BetResult{}, ErrBetOutOfRange
	}

	now := s.now()
	bet := models.Bet{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		GameID:        game.ID,
		Category:      optional(req.Category),
		TransactionID: uuid.NewString(),
		BetAmount:     req.Amount,
		Outcome:       models.OutcomePending,
		PlacedAt:      now,
	}
	reference := req.ExternalReference
	if reference == "" {
		reference = "bet:" + bet.ID
	}
	entry := Entry{
		ID:        bet.TransactionID,
		UserID:    req.UserID,
		Type:      models.TxBet,
		Amount:    req.Amount,
		Category:  req.Category,
		Reference: reference,
		Metadata:  map[string]any{"bet_id": bet.ID, "game_id": game.ID},
	}

	var result BetResult
	if req.Category == "" {
		var info BalanceInfo
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			record, _, err := s.balances.Post(ctx, tx, entry)
			if err != nil {
				return err
			}
			if err := s.bets.Create(ctx, tx, bet); err != nil {
				return fmt.Errorf("create bet: %w", err)
			}
			info, err = s.balances.SyncStoredBalance(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			result = BetResult{Bet: bet, Transaction: &record, Balance: info.Balance}
			return nil
		})
		if err != nil {
			return BetResult{}, err
		}
		s.broadcastMain(req.UserID, info, "bet")
	} else {
		walletRef := "bet:" + bet.ID
		adj, err := s.move.adjust(ctx, req.UserID, req.Category, -req.Amount, walletRef)
		if err != nil {
			return BetResult{}, err
		}
		err = s.move.commit(ctx, req.UserID, req.Category, walletRef, adj, func(tx *sqlx.Tx) error {
			if err := s.balances.Lock(ctx, tx, req.UserID); err != nil {
				return err
			}
			record, err := s.balances.Append(ctx, tx, entry, adj.Before, adj.After)
			if err != nil {
				return err
			}
			if err := s.bets.Create(ctx, tx, bet); err != nil {
				return fmt.Errorf("create bet: %w", err)
			}
			result = BetResult{Bet: bet, Transaction: &record, Balance: adj.After}
			return nil
		})
		if err != nil {
			return BetResult{}, err
		}
		s.broadcastCategory(req.UserID, req.Category, adj.After, "bet")
	}

	s.notify(CommissionEvent{
		UserID:        req.UserID,
		TransactionID: bet.TransactionID,
		Amount:        req.Amount,
		Type:          models.CommissionBetRevenue,
	})
	s.log.Info().
		Str("bet_id", bet.ID).
		Str("user_id", req.UserID).
		Str("category", req.Category).
		Int64("amount", req.Amount).
		Msg("bet placed")
	return result, nil
}

// ResolveBet settles a pending bet once. Wins with a positive amount credit
// the wallet the stake came from.
func (s *SettlementService) ResolveBet(ctx context.Context, req ResolveBetRequest) (BetResult, error) {
	switch req.Outcome {
	case models.OutcomeWin:
		if req.WinAmount < 0 {
			return BetResult{}, ErrInvalidAmount
		}
	case models.OutcomeLose:
		if req.WinAmount != 0 {
			return BetResult{}, ErrInvalidOutcome
		}
	default:
		return BetResult{}, ErrInvalidOutcome
	}
	if req.ExternalReference != "" {
		if err := validator.ValidateReference(req.ExternalReference); err != nil {
			return BetResult{}, err
		}
	}
	bet, err := s.bets.GetByID(ctx, req.BetID)
	if err != nil {
		return BetResult{}, err
	}
	if bet.Outcome != models.OutcomePending {
		s.refused(bet.ID, string(bet.Outcome))
		return BetResult{}, ErrInvalidStateTransition
	}

	now := s.now()
	category := ""
	if bet.Category != nil {
		category = *bet.Category
	}
	credit := req.Outcome == models.OutcomeWin && req.WinAmount > 0
	reference := req.ExternalReference
	if reference == "" {
		reference = "win:" + bet.ID
	}
	entry := Entry{
		ID:        uuid.NewString(),
		UserID:    bet.UserID,
		Type:      models.TxWin,
		Amount:    req.WinAmount,
		Category:  category,
		Reference: reference,
		Metadata:  map[string]any{"bet_id": bet.ID, "game_id": bet.GameID},
	}

	var result BetResult
	settle := func(tx *sqlx.Tx, record func() (*models.Transaction, error)) error {
		if err := s.balances.Lock(ctx, tx, bet.UserID); err != nil {
			return err
		}
		locked, err := s.bets.GetForUpdate(ctx, tx, bet.ID)
		if err != nil {
			return err
		}
		if locked.Outcome != models.OutcomePending {
			return ErrInvalidStateTransition
		}
		win, err := record()
		if err != nil {
			return err
		}
		var winID *string
		if win != nil {
			winID = &win.ID
		}
		rows, err := s.bets.Resolve(ctx, tx, bet.ID, req.Outcome, req.WinAmount, winID, now)
		if err != nil {
			return fmt.Errorf("resolve bet: %w", err)
		}
		if rows == 0 {
			return ErrInvalidStateTransition
		}
		locked.Outcome = req.Outcome
		locked.WinAmount = req.WinAmount
		locked.WinTransactionID = winID
		locked.ResultAt = &now
		result.Bet = locked
		result.Transaction = win
		return nil
	}

	switch {
	case category == "":
		var info BalanceInfo
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			err := settle(tx, func() (*models.Transaction, error) {
				if !credit {
					return nil, nil
				}
				record, _, err := s.balances.Post(ctx, tx, entry)
				if err != nil {
					return nil, err
				}
				return &record, nil
			})
			if err != nil {
				return err
			}
			info, err = s.balances.SyncStoredBalance(ctx, tx, bet.UserID)
			return err
		})
		if err == nil {
			result.Balance = info.Balance
			s.broadcastMain(bet.UserID, info, "bet_resolved")
		}
	case credit:
		walletRef := "win:" + bet.ID
		adj, adjErr := s.move.adjust(ctx, bet.UserID, category, req.WinAmount, walletRef)
		if adjErr != nil {
			return BetResult{}, adjErr
		}
		err = s.move.commit(ctx, bet.UserID, category, walletRef, adj, func(tx *sqlx.Tx) error {
			return settle(tx, func() (*models.Transaction, error) {
				record, err := s.balances.Append(ctx, tx, entry, adj.Before, adj.After)
				if err != nil {
					return nil, err
				}
				return &record, nil
			})
		})
		if err == nil {
			result.Balance = adj.After
			s.broadcastCategory(bet.UserID, category, adj.After, "bet_resolved")
		}
	default:
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			return settle(tx, func() (*models.Transaction, error) { return nil, nil })
		})
		if err == nil {
			result.Balance, err = s.move.wallets.Get(ctx, bet.UserID, category)
			if err != nil {
				s.log.Warn().Err(err).Str("bet_id", bet.ID).Msg("bet resolved but category balance unavailable")
				err = nil
			}
		}
	}
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			s.refused(bet.ID, "")
		}
		return BetResult{}, err
	}

	if result.Transaction != nil {
		s.notify(CommissionEvent{
			UserID:        bet.UserID,
			TransactionID: result.Transaction.ID,
			Amount:        req.WinAmount,
			Type:          models.CommissionWinRevenue,
		})
	}
	if req.Outcome == models.OutcomeLose {
		s.notify(CommissionEvent{
			UserID:        bet.UserID,
			TransactionID: bet.TransactionID,
			Amount:        bet.BetAmount,
			Type:          models.CommissionLossRevenue,
		})
	}
	s.log.Info().
		Str("bet_id", bet.ID).
		Str("outcome", string(req.Outcome)).
		Int64("win_amount", req.WinAmount).
		Msg("bet resolved")
	return result, nil
}

// PlayRound places a bet, asks the generator for the result and settles it.
// If the generator fails the bet stays pending and can be resolved later.
func (s *SettlementService) PlayRound(ctx context.Context, req PlaceBetRequest, generator OutcomeGenerator) (RoundResult, error) {
	placed, err := s.PlaceBet(ctx, req)
	if err != nil {
		return RoundResult{}, err
	}
	outcome, winAmount, err := generator.Outcome(ctx, placed.Bet)
	if err != nil {
		return RoundResult{Bet: placed.Bet, Stake: *placed.Transaction, Balance: placed.Balance},
			fmt.Errorf("bet %s left pending: %w", placed.Bet.ID, err)
	}
	resolved, err := s.ResolveBet(ctx, ResolveBetRequest{
		BetID:     placed.Bet.ID,
		Outcome:   outcome,
		WinAmount: winAmount,
	})
	if err != nil {
		return RoundResult{Bet: placed.Bet, Stake: *placed.Transaction, Balance: placed.Balance},
			fmt.Errorf("bet %s left pending: %w", placed.Bet.ID, err)
	}
	return RoundResult{
		Bet:     resolved.Bet,
		Stake:   *placed.Transaction,
		Win:     resolved.Transaction,
		Balance: resolved.Balance,
	}, nil
}

// refused records a resolution attempt for a bet that is no longer pending.
func (s *SettlementService) refused(betID, outcome string) {
	event := s.log.Warn().Str("bet_id", betID)
	if outcome != "" {
		event = event.Str("outcome", outcome)
	}
	event.Msg("bet already resolved")
}

func (s *SettlementService) notify(event CommissionEvent) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
}

func (s *SettlementService) broadcastMain(userID string, info BalanceInfo, reason string) {
	if s.hub != nil {
		s.hub.BroadcastBalance(userID, info.update(reason))
	}
}

func (s *SettlementService) broadcastCategory(userID, category string, balance int64, reason string) {
	if s.hub != nil {
		s.hub.BroadcastBalance(userID, categoryUpdate(category, balance, s.balances.Currency(), reason))
	}
}
