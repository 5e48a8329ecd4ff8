// Package catalog enumerates the pools that may serve a token pair.
package catalog

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/model"
)

// Catalog lists pool candidates for an unordered token pair.
type Catalog interface {
	Candidates(ctx context.Context, tokenA, tokenB common.Address) ([]model.PoolCandidate, error)
}

// Static expands every configured venue and fee tier without touching the chain.
// Candidates carry no pool address; pools that do not exist surface as NoLiquidity.
type Static struct {
	venues []model.Venue
}

func NewStatic(venues []model.Venue) *Static {
	return &Static{venues: venues}
}

func (s *Static) Candidates(_ context.Context, tokenA, tokenB common.Address) ([]model.PoolCandidate, error) {
	out := make([]model.PoolCandidate, 0, len(s.venues)*2)
	for _, venue := range s.venues {
		out = append(out, expand(venue, tokenA, tokenB)...)
	}
	return out, nil
}

func expand(venue model.Venue, tokenA, tokenB common.Address) []model.PoolCandidate {
	tiers := venue.Tiers()
	out := make([]model.PoolCandidate, 0, len(tiers))
	for _, fee := range tiers {
		out = append(out, model.PoolCandidate{Venue: venue, FeeTier: fee, TokenA: tokenA, TokenB: tokenB})
	}
	return out
}
