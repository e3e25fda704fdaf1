package math

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedAmount is returned for raw amount strings that are not
// base-10 integers.
var ErrMalformedAmount = errors.New("malformed raw amount")

var (
	Hundred = decimal.NewFromInt(100)
	Two     = decimal.NewFromInt(2)
)

// DivisionPrecision is the number of fractional digits kept by Div.
const DivisionPrecision = 18

// NormalizeAmount converts a raw on-chain integer amount into token units
// by shifting it decimals places to the right.
func NormalizeAmount(raw string, decimals int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrMalformedAmount)
	}
	if strings.ContainsAny(raw, ".eE") {
		return decimal.Zero, fmt.Errorf("%w: %q is not an integer", ErrMalformedAmount, raw)
	}
	if decimals < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative decimals %d", ErrMalformedAmount, decimals)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrMalformedAmount, raw, err)
	}
	return v.Shift(-decimals), nil
}

// ParseRaw parses a raw integer amount without scaling it.
func ParseRaw(raw string) (decimal.Decimal, error) {
	return NormalizeAmount(raw, 0)
}

// Div returns a / b rounded to DivisionPrecision, or zero when b is zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, DivisionPrecision)
}

// Average returns the arithmetic mean of values, zero for none.
func Average(values ...decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return Div(decimal.Sum(decimal.Zero, values...), decimal.NewFromInt(int64(len(values))))
}

// Percent returns part / whole × 100, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return Div(part.Mul(Hundred), whole)
}

// USD values an amount of token units at price.
func USD(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price)
}
