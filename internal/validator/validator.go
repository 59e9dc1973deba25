package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidReference = errors.New("invalid external reference")
	ErrInvalidReason    = errors.New("invalid reason")
	ErrInvalidCurrency  = errors.New("invalid currency")
)

var (
	categoryRegex  = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)
	referenceRegex = regexp.MustCompile(`^[A-Za-z0-9:_\-.]{1,128}$`)
	currencyRegex  = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ValidateCategory accepts an empty category, which addresses the main wallet.
func ValidateCategory(category string) error {
	if category == "" {
		return nil
	}
	if !categoryRegex.MatchString(category) {
		return ErrInvalidCategory
	}
	return nil
}

func ValidateReference(reference string) error {
	if !referenceRegex.MatchString(reference) {
		return ErrInvalidReference
	}
	return nil
}

func ValidateReason(reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" || len(trimmed) > 255 {
		return ErrInvalidReason
	}
	return nil
}

func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return ErrInvalidCurrency
	}
	return nil
}
