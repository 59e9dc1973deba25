package store

import (
	"context"
	"fmt"

	"ledger/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

type TransactionInput struct {
	ID                    string
	UserID                string
	Type                  models.TransactionType
	Amount                int64
	BalanceBefore         int64
	BalanceAfter          int64
	Currency              string
	Category              *string
	ExternalReference     *string
	ReversesTransactionID *string
	Metadata              string
}

// CategoryTotal is the log-side view of one category wallet.
type CategoryTotal struct {
	UserID   string `db:"user_id"`
	Category string `db:"category"`
	Total    int64  `db:"total"`
}

const transactionColumns = `id, user_id, type, amount, balance_before, balance_after, currency, status,
		       category, external_reference, reverses_transaction_id, metadata::text AS metadata, created_at`

// signedAmountSQL mirrors models.TransactionType.Sign.
const signedAmountSQL = `CASE WHEN type IN ('withdrawal', 'bet') THEN -amount ELSE amount END`

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	metadata := input.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	query := `
		INSERT INTO transactions (id, user_id, type, amount, balance_before, balance_after, currency, status,
		                          category, external_reference, reverses_transaction_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'completed', $8, $9, $10, $11)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, string(input.Type), input.Amount, input.BalanceBefore, input.BalanceAfter,
		input.Currency, input.Category, input.ExternalReference, input.ReversesTransactionID, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert %s transaction: %w", input.Type, err)
	}
	return nil
}

func (s *TransactionStore) GetByID(ctx context.Context, transactionID string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID)
	if err != nil {
		return models.Transaction{}, notFound(err)
	}
	return row, nil
}

func (s *TransactionStore) GetByReference(ctx context.Context, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE external_reference = $1`, reference)
	if err != nil {
		return models.Transaction{}, notFound(err)
	}
	return row, nil
}

func (s *TransactionStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE external_reference = $1
		FOR UPDATE
	`, reference)
	if err != nil {
		return models.Transaction{}, notFound(err)
	}
	return row, nil
}

// MarkCancelled flips a completed transaction to cancelled. Zero rows means it
// was not completed any more.
func (s *TransactionStore) MarkCancelled(ctx context.Context, tx Execer, transactionID string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'completed'
	`, transactionID))
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID, category string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// CategoryTotals sums every category wallet's effective log entries. Reversal
// adjustments are skipped because the cancelled original is already excluded.
func (s *TransactionStore) CategoryTotals(ctx context.Context) ([]CategoryTotal, error) {
	var rows []CategoryTotal
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, category, COALESCE(SUM(`+signedAmountSQL+`), 0) AS total
		FROM transactions
		WHERE category IS NOT NULL
		  AND status = 'completed'
		  AND reverses_transaction_id IS NULL
		GROUP BY user_id, category
		ORDER BY user_id, category
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
