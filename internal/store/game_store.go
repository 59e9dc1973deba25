package store

import (
	"context"

	"ledger/internal/models"
)

type GameStore struct {
	db DB
}

func NewGameStore(db DB) *GameStore {
	return &GameStore{db: db}
}

func (s *GameStore) GetByID(ctx context.Context, gameID string) (models.Game, error) {
	var row models.Game
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, category, min_bet, max_bet, is_active
		FROM games
		WHERE id = $1
	`, gameID)
	if err != nil {
		return models.Game{}, notFound(err)
	}
	return row, nil
}

func (s *GameStore) ListActive(ctx context.Context) ([]models.Game, error) {
	var rows []models.Game
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, category, min_bet, max_bet, is_active
		FROM games
		WHERE is_active = TRUE
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
