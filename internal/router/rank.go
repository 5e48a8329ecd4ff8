package router

import (
	"math/big"
	"sort"

	"swapScope/internal/model"
)

var one = big.NewRat(1, 1)

// Rank drops failed quotes and orders the rest best first: larger output,
// then fewer hops, then lower price impact, then the smaller path id.
func Rank(quotes []model.QuoteResult) []model.QuoteResult {
	out := make([]model.QuoteResult, 0, len(quotes))
	for _, q := range quotes {
		if q.OK() {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Better(out[i], out[j])
	})
	return out
}

// Better reports whether a ranks strictly ahead of b.
func Better(a, b model.QuoteResult) bool {
	if c := a.AmountOut.Cmp(b.AmountOut); c != 0 {
		return c > 0
	}
	if a.HopCount() != b.HopCount() {
		return a.HopCount() < b.HopCount()
	}
	if c := impactOf(a).Cmp(impactOf(b)); c != 0 {
		return c < 0
	}
	return a.ID() < b.ID()
}

// impactOf treats an unknown impact as the worst possible.
func impactOf(q model.QuoteResult) *big.Rat {
	if q.PriceImpact == nil {
		return one
	}
	return q.PriceImpact
}
