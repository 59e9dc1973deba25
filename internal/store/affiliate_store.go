package store

import (
	"context"

	"ledger/internal/models"
)

type AffiliateStore struct {
	db DB
}

func NewAffiliateStore(db DB) *AffiliateStore {
	return &AffiliateStore{db: db}
}

// ListUplines returns the affiliates above a user ordered by level, nearest
// first.
func (s *AffiliateStore) ListUplines(ctx context.Context, userID string, maxLevels int) ([]models.AffiliateRelationship, error) {
	var rows []models.AffiliateRelationship
	err := s.db.SelectContext(ctx, &rows, `
		SELECT affiliate_id, referred_user_id, level
		FROM affiliate_relationships
		WHERE referred_user_id = $1 AND level <= $2
		ORDER BY level, affiliate_id
	`, userID, maxLevels)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateCommission inserts a record unless one already exists for the same
// source transaction, affiliate and type. It reports whether a row was written.
func (s *AffiliateStore) CreateCommission(ctx context.Context, c models.Commission) (bool, error) {
	rows, err := rowsAffected(s.db.ExecContext(ctx, `
		INSERT INTO affiliate_commissions (id, affiliate_id, referred_user_id, source_transaction_id, level,
		                                   commission_type, rate, base_amount, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_transaction_id, affiliate_id, commission_type) DO NOTHING
	`, c.ID, c.AffiliateID, c.ReferredUserID, c.SourceTransactionID, c.Level,
		string(c.CommissionType), c.Rate, c.BaseAmount, c.Amount, c.Status, c.CreatedAt))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CancelBySource cancels every unpaid commission earned from a transaction.
func (s *AffiliateStore) CancelBySource(ctx context.Context, tx Execer, sourceTransactionID string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE affiliate_commissions
		SET status = 'cancelled'
		WHERE source_transaction_id = $1 AND status IN ('pending', 'approved')
	`, sourceTransactionID))
}

func (s *AffiliateStore) ListCommissions(ctx context.Context, affiliateID string, limit, offset int) ([]models.Commission, error) {
	var rows []models.Commission
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, affiliate_id, referred_user_id, source_transaction_id, level, commission_type,
		       rate::text AS rate, base_amount, amount, status, created_at
		FROM affiliate_commissions
		WHERE affiliate_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, affiliateID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
