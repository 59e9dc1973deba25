package services

import (
	"errors"
	"fmt"

	"ledger/internal/store"
	"ledger/internal/wallet"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrNotFound               = store.ErrNotFound
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrExternalDependency     = wallet.ErrExternalDependency
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrBetOutOfRange          = errors.New("bet amount outside game limits")
	ErrGameInactive           = errors.New("game is not active")
	ErrBelowMinimumRedemption = errors.New("amount below minimum redemption")
	ErrNotCancellable         = errors.New("transaction cannot be cancelled")
	ErrInvalidOutcome         = errors.New("invalid bet outcome")
	ErrDuplicateReference     = errors.New("external reference already used")
)

// InsufficientFundsError reports what was spendable when a debit was refused.
// It matches ErrInsufficientFunds under errors.Is.
type InsufficientFundsError struct {
	Wallet    string
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s wallet: available %d, requested %d", e.Wallet, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
