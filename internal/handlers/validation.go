package handlers

import (
	"errors"

	"ledger/internal/models"
	"ledger/internal/money"
)

var errInvalidAmount = errors.New("invalid amount")
var errInvalidOutcome = errors.New("invalid outcome")

func parseAmountMinor(raw string) (int64, error) {
	amount, err := money.ParseMinor(raw)
	if err != nil || amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

// parseWinAmount allows an empty or zero amount, which losing bets carry.
func parseWinAmount(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	amount, err := money.ParseMinor(raw)
	if err != nil || amount < 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

func parseOutcome(raw string) (models.BetOutcome, error) {
	switch outcome := models.BetOutcome(raw); outcome {
	case models.OutcomeWin, models.OutcomeLose:
		return outcome, nil
	default:
		return "", errInvalidOutcome
	}
}
