package store

import (
	"context"
	"time"

	"ledger/internal/models"
)

type RedemptionStore struct {
	db DB
}

func NewRedemptionStore(db DB) *RedemptionStore {
	return &RedemptionStore{db: db}
}

const redemptionColumns = `id, user_id, status, total_amount, instant_amount, locked_amount, instant_status,
		       locked_status, unlock_date, instant_transaction_id, unlock_transaction_id, rejection_reason,
		       processed_by, created_at, updated_at`

func (s *RedemptionStore) Create(ctx context.Context, tx Execer, r models.Redemption) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO affiliate_redemptions (id, user_id, status, total_amount, instant_amount, locked_amount,
		                                   instant_status, locked_status, unlock_date, created_at, updated_at)
		VALUES ($1, $2, 'requested', $3, $4, $5, 'pending', 'locked', $6, $7, $7)
	`, r.ID, r.UserID, r.TotalAmount, r.InstantAmount, r.LockedAmount, r.UnlockDate, r.CreatedAt)
	return err
}

func (s *RedemptionStore) GetByID(ctx context.Context, id string) (models.Redemption, error) {
	var row models.Redemption
	err := s.db.GetContext(ctx, &row, `SELECT `+redemptionColumns+` FROM affiliate_redemptions WHERE id = $1`, id)
	if err != nil {
		return models.Redemption{}, notFound(err)
	}
	return row, nil
}

func (s *RedemptionStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.Redemption, error) {
	var row models.Redemption
	err := tx.GetContext(ctx, &row, `SELECT `+redemptionColumns+` FROM affiliate_redemptions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return models.Redemption{}, notFound(err)
	}
	return row, nil
}

func (s *RedemptionStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Redemption, error) {
	var rows []models.Redemption
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+redemptionColumns+`
		FROM affiliate_redemptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Approve completes the instant portion. Zero rows means the redemption was
// no longer requested.
func (s *RedemptionStore) Approve(ctx context.Context, tx Execer, id string, instantTransactionID *string, actor string, at time.Time) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE affiliate_redemptions
		SET status = 'approved', instant_status = 'completed', instant_transaction_id = $1,
		    processed_by = $2, updated_at = $3
		WHERE id = $4 AND status = 'requested'
	`, instantTransactionID, actor, at, id))
}

func (s *RedemptionStore) Reject(ctx context.Context, tx Execer, id, reason, actor string, at time.Time) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE affiliate_redemptions
		SET status = 'rejected', instant_status = 'rejected', locked_status = 'cancelled',
		    rejection_reason = $1, processed_by = $2, updated_at = $3
		WHERE id = $4 AND status = 'requested'
	`, reason, actor, at, id))
}

// ListDueForRelease takes no locks; each id is claimed later by MarkUnlocked.
func (s *RedemptionStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id
		FROM affiliate_redemptions
		WHERE status = 'approved'
		  AND instant_status = 'completed'
		  AND locked_status = 'locked'
		  AND unlock_date <= $1
		ORDER BY unlock_date, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkUnlocked claims a due redemption. Zero rows means another sweeper got
// there first or it is not due yet.
func (s *RedemptionStore) MarkUnlocked(ctx context.Context, tx Execer, id string, unlockTransactionID *string, now time.Time) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE affiliate_redemptions
		SET locked_status = 'unlocked', unlock_transaction_id = $1, updated_at = $2
		WHERE id = $3
		  AND status = 'approved'
		  AND instant_status = 'completed'
		  AND locked_status = 'locked'
		  AND unlock_date <= $2
	`, unlockTransactionID, now, id))
}
