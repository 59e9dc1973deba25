package store

import (
	"context"

	"ledger/internal/models"
)

type CancellationStore struct {
	db DB
}

func NewCancellationStore(db DB) *CancellationStore {
	return &CancellationStore{db: db}
}

// GetByReference returns the record for an already cancelled transaction.
// A nil getter reads from the pool.
func (s *CancellationStore) GetByReference(ctx context.Context, q Getter, reference string) (models.CancellationRecord, error) {
	if q == nil {
		q = s.db
	}
	var row models.CancellationRecord
	err := q.GetContext(ctx, &row, `
		SELECT id, user_id, original_transaction_id, original_external_reference, original_type, original_amount,
		       original_balance_before, balance_adjustment, balance_after, adjustment_transaction_id, reason,
		       cancelled_by, created_at
		FROM cancellation_tracking
		WHERE original_external_reference = $1
	`, reference)
	if err != nil {
		return models.CancellationRecord{}, notFound(err)
	}
	return row, nil
}

func (s *CancellationStore) Create(ctx context.Context, tx Execer, record models.CancellationRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cancellation_tracking (id, user_id, original_transaction_id, original_external_reference,
		                                   original_type, original_amount, original_balance_before,
		                                   balance_adjustment, balance_after, adjustment_transaction_id,
		                                   reason, cancelled_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, record.ID, record.UserID, record.OriginalTransactionID, record.OriginalExternalReference,
		string(record.OriginalType), record.OriginalAmount, record.OriginalBalanceBefore,
		record.BalanceAdjustment, record.BalanceAfter, record.AdjustmentTransactionID,
		record.Reason, record.CancelledBy, record.CreatedAt)
	return err
}
