package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger/internal/config"
	"ledger/internal/db"
	"ledger/internal/models"
	"ledger/internal/money"
	"ledger/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const sweepBatchSize = 500

type RedemptionService struct {
	txRunner    db.TxRunner
	balances    *BalanceCalculator
	redemptions RedemptionStore
	audit       AuditStore
	hub         BalanceHub
	cfg         config.RedemptionConfig
	log         zerolog.Logger
	now         func() time.Time
}

func NewRedemptionService(txRunner db.TxRunner, balances *BalanceCalculator, redemptions RedemptionStore, audit AuditStore, hub BalanceHub, cfg config.RedemptionConfig, log zerolog.Logger) *RedemptionService {
	return &RedemptionService{
		txRunner:    txRunner,
		balances:    balances,
		redemptions: redemptions,
		audit:       audit,
		hub:         hub,
		cfg:         cfg,
		log:         log.With().Str("component", "redemption").Logger(),
		now:         time.Now,
	}
}

// SweepResult counts what one sweep did. Skipped redemptions were claimed by
// a concurrent sweeper between listing and locking.
type SweepResult struct {
	Released int `json:"released"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// RequestRedemption moves amount out of the spendable affiliate balance and
// records how it will be paid out.
func (s *RedemptionService) RequestRedemption(ctx context.Context, userID string, amount int64) (models.Redemption, error) {
	if amount <= 0 {
		return models.Redemption{}, ErrInvalidAmount
	}
	if amount < s.cfg.MinimumMinor {
		return models.Redemption{}, ErrBelowMinimumRedemption
	}
	instant, locked, err := money.Split(amount, s.cfg.InstantPct)
	if err != nil {
		return models.Redemption{}, err
	}
	now := s.now()
	redemption := models.Redemption{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        models.RedemptionRequested,
		TotalAmount:   amount,
		InstantAmount: instant,
		LockedAmount:  locked,
		InstantStatus: models.InstantPending,
		LockedStatus:  models.LockedLocked,
		UnlockDate:    now.AddDate(0, 0, s.cfg.LockDays),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var info BalanceInfo
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.balances.Lock(ctx, tx, userID); err != nil {
			return err
		}
		current, err := s.balances.derive(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current.AffiliateBalance < amount {
			return &InsufficientFundsError{
				Wallet:    "affiliate",
				Available: current.AffiliateBalance,
				Requested: amount,
			}
		}
		if err := s.redemptions.Create(ctx, tx, redemption); err != nil {
			return fmt.Errorf("create redemption: %w", err)
		}
		if err := s.audit.Log(ctx, tx, userID, "redemption.requested", "redemption", redemption.ID, map[string]any{
			"total_amount":   amount,
			"instant_amount": instant,
			"locked_amount":  locked,
			"unlock_date":    redemption.UnlockDate,
		}); err != nil {
			return fmt.Errorf("audit redemption: %w", err)
		}
		info, err = s.balances.SyncStoredBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return models.Redemption{}, err
	}
	s.broadcast(userID, info, "redemption_requested")
	s.log.Info().
		Str("redemption_id", redemption.ID).
		Str("user_id", userID).
		Int64("total_amount", amount).
		Int64("instant_amount", instant).
		Int64("locked_amount", locked).
		Msg("redemption requested")
	return redemption, nil
}

// Approve pays the instant portion into the main wallet. The locked portion
// stays held until the sweep releases it.
func (s *RedemptionService) Approve(ctx context.Context, redemptionID, actor string) (models.Redemption, error) {
	pre, err := s.redemptions.GetByID(ctx, redemptionID)
	if err != nil {
		return models.Redemption{}, err
	}
	if pre.Status != models.RedemptionRequested {
		s.refused(redemptionID, "approve", actor, string(pre.Status))
		return models.Redemption{}, ErrInvalidStateTransition
	}

	var (
		result models.Redemption
		info   BalanceInfo
	)
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.balances.Lock(ctx, tx, pre.UserID); err != nil {
			return err
		}
		redemption, err := s.redemptions.GetForUpdate(ctx, tx, redemptionID)
		if err != nil {
			return err
		}
		if redemption.Status != models.RedemptionRequested {
			return ErrInvalidStateTransition
		}
		var instantTxID *string
		if redemption.InstantAmount > 0 {
			record, _, err := s.balances.Post(ctx, tx, Entry{
				UserID:    redemption.UserID,
				Type:      models.TxDeposit,
				Amount:    redemption.InstantAmount,
				Reference: "redemption:" + redemption.ID + ":instant",
				Metadata:  map[string]any{"redemption_id": redemption.ID, "portion": "instant"},
			})
			if err != nil {
				return err
			}
			instantTxID = &record.ID
		}
		now := s.now()
		rows, err := s.redemptions.Approve(ctx, tx, redemption.ID, instantTxID, actor, now)
		if err != nil {
			return fmt.Errorf("approve redemption: %w", err)
		}
		if rows == 0 {
			return ErrInvalidStateTransition
		}
		if err := s.audit.Log(ctx, tx, actor, "redemption.approved", "redemption", redemption.ID, map[string]any{
			"instant_amount": redemption.InstantAmount,
			"locked_amount":  redemption.LockedAmount,
		}); err != nil {
			return fmt.Errorf("audit redemption: %w", err)
		}
		if info, err = s.balances.SyncStoredBalance(ctx, tx, redemption.UserID); err != nil {
			return err
		}
		redemption.Status = models.RedemptionApproved
		redemption.InstantStatus = models.InstantCompleted
		redemption.InstantTransactionID = instantTxID
		redemption.ProcessedBy = optional(actor)
		redemption.UpdatedAt = now
		result = redemption
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			s.refused(redemptionID, "approve", actor, "")
		}
		return models.Redemption{}, err
	}
	s.broadcast(result.UserID, info, "redemption_approved")
	s.log.Info().
		Str("redemption_id", result.ID).
		Str("actor", actor).
		Int64("instant_amount", result.InstantAmount).
		Msg("redemption approved")
	return result, nil
}

// Reject returns the whole amount to the affiliate balance.
func (s *RedemptionService) Reject(ctx context.Context, redemptionID, reason, actor string) (models.Redemption, error) {
	if err := validator.ValidateReason(reason); err != nil {
		return models.Redemption{}, err
	}
	reason = strings.TrimSpace(reason)
	pre, err := s.redemptions.GetByID(ctx, redemptionID)
	if err != nil {
		return models.Redemption{}, err
	}
	if pre.Status != models.RedemptionRequested {
		s.refused(redemptionID, "reject", actor, string(pre.Status))
		return models.Redemption{}, ErrInvalidStateTransition
	}

	var (
		result models.Redemption
		info   BalanceInfo
	)
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.balances.Lock(ctx, tx, pre.UserID); err != nil {
			return err
		}
		now := s.now()
		rows, err := s.redemptions.Reject(ctx, tx, redemptionID, reason, actor, now)
		if err != nil {
			return fmt.Errorf("reject redemption: %w", err)
		}
		if rows == 0 {
			return ErrInvalidStateTransition
		}
		if err := s.audit.Log(ctx, tx, actor, "redemption.rejected", "redemption", redemptionID, map[string]any{
			"reason":       reason,
			"total_amount": pre.TotalAmount,
		}); err != nil {
			return fmt.Errorf("audit redemption: %w", err)
		}
		if info, err = s.balances.SyncStoredBalance(ctx, tx, pre.UserID); err != nil {
			return err
		}
		result = pre
		result.Status = models.RedemptionRejected
		result.InstantStatus = models.InstantRejected
		result.LockedStatus = models.LockedCancelled
		result.RejectionReason = &reason
		result.ProcessedBy = optional(actor)
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			s.refused(redemptionID, "reject", actor, "")
		}
		return models.Redemption{}, err
	}
	s.broadcast(result.UserID, info, "redemption_rejected")
	s.log.Info().Str("redemption_id", redemptionID).Str("actor", actor).Msg("redemption rejected")
	return result, nil
}

// SweepLockedReleases releases every locked portion whose unlock date has
// passed. Each redemption is released in its own transaction; failures are
// left for the next sweep.
func (s *RedemptionService) SweepLockedReleases(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()
	ids, err := s.redemptions.ListDueForRelease(ctx, now, sweepBatchSize)
	if err != nil {
		return result, fmt.Errorf("list due redemptions: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		released, err := s.release(ctx, id, now)
		switch {
		case err != nil:
			result.Failed++
			s.log.Error().Err(err).Str("redemption_id", id).Msg("locked release failed")
		case released:
			result.Released++
		default:
			result.Skipped++
		}
	}
	if len(ids) > 0 {
		s.log.Info().
			Int("released", result.Released).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("redemption sweep finished")
	}
	return result, nil
}

func (s *RedemptionService) release(ctx context.Context, id string, now time.Time) (bool, error) {
	pre, err := s.redemptions.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if pre.LockedStatus != models.LockedLocked {
		return false, nil
	}

	var (
		released bool
		info     BalanceInfo
	)
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		released = false
		if err := s.balances.Lock(ctx, tx, pre.UserID); err != nil {
			return err
		}
		redemption, err := s.redemptions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if redemption.LockedStatus != models.LockedLocked || redemption.UnlockDate.After(now) {
			return nil
		}
		var unlockTxID *string
		if redemption.LockedAmount > 0 {
			record, _, err := s.balances.Post(ctx, tx, Entry{
				UserID:    redemption.UserID,
				Type:      models.TxDeposit,
				Amount:    redemption.LockedAmount,
				Reference: "redemption:" + redemption.ID + ":unlock",
				Metadata:  map[string]any{"redemption_id": redemption.ID, "portion": "locked"},
			})
			if err != nil {
				if errors.Is(err, ErrDuplicateReference) {
					return errSweepLost
				}
				return err
			}
			unlockTxID = &record.ID
		}
		rows, err := s.redemptions.MarkUnlocked(ctx, tx, redemption.ID, unlockTxID, now)
		if err != nil {
			return fmt.Errorf("mark unlocked: %w", err)
		}
		if rows == 0 {
			// Roll back the deposit; another sweeper released it.
			return errSweepLost
		}
		if info, err = s.balances.SyncStoredBalance(ctx, tx, redemption.UserID); err != nil {
			return err
		}
		released = true
		return nil
	})
	if errors.Is(err, errSweepLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if released {
		s.broadcast(pre.UserID, info, "redemption_unlocked")
	}
	return released, nil
}

var errSweepLost = errors.New("redemption released by another sweeper")

// refused records an approve or reject that lost to an earlier decision.
// status is empty when the conflict was only seen under the row lock.
func (s *RedemptionService) refused(redemptionID, action, actor, status string) {
	event := s.log.Warn().
		Str("redemption_id", redemptionID).
		Str("action", action).
		Str("actor", actor)
	if status != "" {
		event = event.Str("status", status)
	}
	event.Msg("redemption transition refused")
}

func (s *RedemptionService) broadcast(userID string, info BalanceInfo, reason string) {
	if s.hub != nil {
		s.hub.BroadcastBalance(userID, info.update(reason))
	}
}
