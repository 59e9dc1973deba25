package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrInvalidPercent  = errors.New("percentage must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// ParseMinor converts a decimal string such as "12.5" into minor units (1250).
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if value.Exponent() < -2 && !value.Equal(value.Truncate(2)) {
		return 0, ErrTooManyDecimals
	}
	minor := value.Mul(hundred)
	if !minor.IsInteger() {
		return 0, ErrInvalidAmount
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func FormatMinor(value int64) string {
	return decimal.New(value, -2).StringFixed(2)
}

// Percent returns pct percent of amount in minor units, rounded half-even.
func Percent(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).RoundBank(0).IntPart()
}

// Split divides amount into an instant share of pct percent and the rest.
// The two parts always add back up to amount.
func Split(amount int64, pct decimal.Decimal) (instant int64, rest int64, err error) {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return 0, 0, ErrInvalidPercent
	}
	instant = Percent(amount, pct)
	if instant > amount {
		instant = amount
	}
	return instant, amount - instant, nil
}
