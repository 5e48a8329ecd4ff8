package price

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"swapScope/internal/model"
)

// FormatAmount renders a raw amount in whole-token units.
func FormatAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// ParseUnits converts a decimal string like "1.5" into raw base units.
// More fractional digits than decimals is an error, not a rounding.
func ParseUnits(input string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidAmount, input)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", model.ErrInvalidAmount, input)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", model.ErrInvalidAmount, input, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatRate renders a rate with up to 18 decimals.
func FormatRate(r *big.Rat) string {
	return ToDecimal(r).String()
}

// FormatPercent renders an impact fraction as a percentage with 4 decimals.
func FormatPercent(r *big.Rat) string {
	return ToDecimal(r).Shift(2).StringFixed(4)
}
