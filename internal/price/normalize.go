// Package price converts raw integer quotes into decimal-adjusted rates and
// price impact.
package price

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"swapScope/internal/model"
)

const ratePlaces = 18

// Normalized is a rate in output units per input unit, kept exact, with the
// raw amounts it came from.
type Normalized struct {
	Rate      *big.Rat
	AmountIn  model.Amount
	AmountOut model.Amount
}

// Normalize computes rate = (out / 10^decOut) / (in / 10^decIn) exactly.
func Normalize(amountIn, amountOut model.Amount) (Normalized, error) {
	rate, err := Rate(amountIn, amountOut)
	if err != nil {
		return Normalized{}, err
	}
	return Normalized{Rate: rate, AmountIn: amountIn, AmountOut: amountOut}, nil
}

// Rate is Normalize without the bookkeeping.
func Rate(amountIn, amountOut model.Amount) (*big.Rat, error) {
	if amountIn.Raw == nil || amountIn.Raw.Sign() <= 0 {
		return nil, fmt.Errorf("%w: input must be positive", model.ErrInvalidAmount)
	}
	if amountOut.Raw == nil || amountOut.Raw.Sign() < 0 {
		return nil, fmt.Errorf("%w: output must not be negative", model.ErrInvalidAmount)
	}
	return new(big.Rat).Quo(amountOut.Units(), amountIn.Units()), nil
}

// Decimal renders the rate rounded to 18 places.
func (n Normalized) Decimal() decimal.Decimal {
	return ToDecimal(n.Rate)
}

// ToDecimal converts an exact rational to a decimal rounded to 18 places.
func ToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(ratePlaces))
	if err != nil {
		return decimal.Zero
	}
	return d
}
