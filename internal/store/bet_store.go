package store

import (
	"context"
	"time"

	"ledger/internal/models"
)

type BetStore struct {
	db DB
}

func NewBetStore(db DB) *BetStore {
	return &BetStore{db: db}
}

const betColumns = `id, user_id, game_id, category, transaction_id, win_transaction_id, bet_amount, win_amount,
		       outcome, placed_at, result_at`

func (s *BetStore) Create(ctx context.Context, tx Execer, bet models.Bet) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bets (id, user_id, game_id, category, transaction_id, bet_amount, outcome, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
	`, bet.ID, bet.UserID, bet.GameID, bet.Category, bet.TransactionID, bet.BetAmount, bet.PlacedAt)
	return err
}

func (s *BetStore) GetByID(ctx context.Context, betID string) (models.Bet, error) {
	var row models.Bet
	err := s.db.GetContext(ctx, &row, `SELECT `+betColumns+` FROM bets WHERE id = $1`, betID)
	if err != nil {
		return models.Bet{}, notFound(err)
	}
	return row, nil
}

func (s *BetStore) GetForUpdate(ctx context.Context, tx Getter, betID string) (models.Bet, error) {
	var row models.Bet
	err := tx.GetContext(ctx, &row, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, betID)
	if err != nil {
		return models.Bet{}, notFound(err)
	}
	return row, nil
}

// GetByTransactionForUpdate finds the bet a stake or payout transaction
// belongs to.
func (s *BetStore) GetByTransactionForUpdate(ctx context.Context, tx Getter, transactionID string) (models.Bet, error) {
	var row models.Bet
	err := tx.GetContext(ctx, &row, `
		SELECT `+betColumns+`
		FROM bets
		WHERE transaction_id = $1 OR win_transaction_id = $1
		FOR UPDATE
	`, transactionID)
	if err != nil {
		return models.Bet{}, notFound(err)
	}
	return row, nil
}

// Resolve moves a pending bet to its terminal outcome. Zero rows means the bet
// was no longer pending.
func (s *BetStore) Resolve(ctx context.Context, tx Execer, betID string, outcome models.BetOutcome, winAmount int64, winTransactionID *string, at time.Time) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE bets
		SET outcome = $1, win_amount = $2, win_transaction_id = $3, result_at = $4
		WHERE id = $5 AND outcome = 'pending'
	`, string(outcome), winAmount, winTransactionID, at, betID))
}

func (s *BetStore) MarkCancelled(ctx context.Context, tx Execer, betID string, at time.Time) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE bets
		SET outcome = 'cancelled', result_at = $1
		WHERE id = $2 AND outcome <> 'cancelled'
	`, at, betID))
}

func (s *BetStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Bet, error) {
	var rows []models.Bet
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+betColumns+`
		FROM bets
		WHERE user_id = $1
		ORDER BY placed_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
