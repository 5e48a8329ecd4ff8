package price

import (
	"math/big"
)

// Price impact thresholds in basis points.
const (
	ImpactLowBps      int64 = 100
	ImpactModerateBps int64 = 300
	ImpactHighBps     int64 = 500
	ImpactExtremeBps  int64 = 1000
)

// Severity buckets a price impact.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityExtreme  Severity = "extreme"
)

// Impact returns 1 - rateAtSize/rateAtReference, clamped to [0, 1]. A better
// rate at size than at the reference reads as zero impact.
func Impact(rateAtSize, rateAtReference *big.Rat) *big.Rat {
	if rateAtSize == nil || rateAtReference == nil || rateAtReference.Sign() <= 0 {
		return new(big.Rat)
	}
	ratio := new(big.Rat).Quo(rateAtSize, rateAtReference)
	impact := new(big.Rat).Sub(big.NewRat(1, 1), ratio)
	if impact.Sign() < 0 {
		return new(big.Rat)
	}
	if impact.Cmp(big.NewRat(1, 1)) > 0 {
		return big.NewRat(1, 1)
	}
	return impact
}

// ImpactBps converts an impact fraction to basis points, rounding down.
func ImpactBps(impact *big.Rat) int64 {
	if impact == nil {
		return 0
	}
	scaled := new(big.Rat).Mul(impact, big.NewRat(10000, 1))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()).Int64()
}

// SeverityOf buckets an impact given in basis points.
func SeverityOf(bps int64) Severity {
	switch {
	case bps < ImpactLowBps:
		return SeverityNone
	case bps < ImpactModerateBps:
		return SeverityLow
	case bps < ImpactHighBps:
		return SeverityModerate
	case bps < ImpactExtremeBps:
		return SeverityHigh
	default:
		return SeverityExtreme
	}
}

// ReferenceAmount is the probe size used as the near-spot reference:
// amountIn * probeBps / 10000, but never below one base unit.
func ReferenceAmount(amountIn *big.Int, probeBps int64) *big.Int {
	ref := new(big.Int).Mul(amountIn, big.NewInt(probeBps))
	ref.Quo(ref, big.NewInt(10000))
	if ref.Sign() <= 0 {
		return big.NewInt(1)
	}
	return ref
}
