package engine

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapScope/internal/model"
)

// attempt is one planned quote: a venue and a concrete path through it.
type attempt struct {
	index int
	venue model.Venue
	path  []model.Hop
	pools []common.Address
}

type pairKey struct {
	a, b common.Address
}

func newPairKey(a, b common.Address) pairKey {
	lo, hi := model.SortPair(a, b)
	return pairKey{a: lo, b: hi}
}

// legs maps an unordered pair to its candidates grouped by venue name.
type legs map[pairKey]map[string][]model.PoolCandidate

func (l legs) get(a, b common.Address) map[string][]model.PoolCandidate {
	return l[newPairKey(a, b)]
}

// plan enumerates direct, two-hop and three-hop attempts in that order.
func (e *Engine) plan(ctx context.Context, tokenIn, tokenOut common.Address) ([]attempt, error) {
	mids := make([]common.Address, 0, len(e.cfg.Intermediates))
	for _, mid := range e.cfg.Intermediates {
		if mid != tokenIn && mid != tokenOut {
			mids = append(mids, mid)
		}
	}

	pairs := []pairKey{newPairKey(tokenIn, tokenOut)}
	if e.cfg.MaxHops >= 2 {
		for _, mid := range mids {
			pairs = append(pairs, newPairKey(tokenIn, mid), newPairKey(mid, tokenOut))
		}
	}
	if e.cfg.MaxHops >= 3 {
		for i := range mids {
			for j := i + 1; j < len(mids); j++ {
				pairs = append(pairs, newPairKey(mids[i], mids[j]))
			}
		}
	}

	found, err := e.lookupLegs(ctx, pairs)
	if err != nil {
		return nil, err
	}

	var out []attempt
	add := func(venue model.Venue, path []model.Hop, pools []common.Address) {
		out = append(out, attempt{index: len(out), venue: venue, path: path, pools: pools})
	}

	for _, venue := range e.cfg.Venues {
		for _, c := range found.get(tokenIn, tokenOut)[venue.Name] {
			add(c.Venue, []model.Hop{{Token: tokenIn, Fee: c.FeeTier}, {Token: tokenOut}}, []common.Address{c.Pool})
		}
	}
	if e.cfg.MaxHops >= 2 {
		for _, mid := range mids {
			for _, venue := range e.cfg.Venues {
				e.expandPaths(found, venue.Name, []common.Address{tokenIn, mid, tokenOut}, add)
			}
		}
	}
	if e.cfg.MaxHops >= 3 {
		for _, m1 := range mids {
			for _, m2 := range mids {
				if m1 == m2 {
					continue
				}
				for _, venue := range e.cfg.Venues {
					e.expandPaths(found, venue.Name, []common.Address{tokenIn, m1, m2, tokenOut}, add)
				}
			}
		}
	}

	if e.cfg.MaxAttempts > 0 && len(out) > e.cfg.MaxAttempts {
		e.logger.Warn("attempt plan truncated",
			zap.Int("planned", len(out)),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
		)
		out = out[:e.cfg.MaxAttempts]
	}
	return out, nil
}

// expandPaths emits every fee-tier combination of one venue along tokens.
func (e *Engine) expandPaths(found legs, venueName string, tokens []common.Address, add func(model.Venue, []model.Hop, []common.Address)) {
	hopLegs := make([][]model.PoolCandidate, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		candidates := found.get(tokens[i], tokens[i+1])[venueName]
		if len(candidates) == 0 {
			return
		}
		hopLegs = append(hopLegs, candidates)
	}

	var walk func(depth int, chosen []model.PoolCandidate)
	walk = func(depth int, chosen []model.PoolCandidate) {
		if depth == len(hopLegs) {
			path := make([]model.Hop, len(tokens))
			pools := make([]common.Address, len(chosen))
			for i, token := range tokens {
				path[i].Token = token
				if i < len(chosen) {
					path[i].Fee = chosen[i].FeeTier
					pools[i] = chosen[i].Pool
				}
			}
			add(chosen[0].Venue, path, pools)
			return
		}
		for _, c := range hopLegs[depth] {
			walk(depth+1, append(chosen, c))
		}
	}
	walk(0, make([]model.PoolCandidate, 0, len(hopLegs)))
}

func (e *Engine) lookupLegs(ctx context.Context, pairs []pairKey) (legs, error) {
	found := make(legs, len(pairs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxInFlight)
	seen := make(map[pairKey]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		pair := pair
		g.Go(func() error {
			candidates, err := e.catalog.Candidates(gctx, pair.a, pair.b)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn("catalog lookup failed",
					zap.String("token_a", pair.a.Hex()),
					zap.String("token_b", pair.b.Hex()),
					zap.Error(err),
				)
				return nil
			}
			byVenue := make(map[string][]model.PoolCandidate)
			for _, c := range candidates {
				byVenue[c.Venue.Name] = append(byVenue[c.Venue.Name], c)
			}
			mu.Lock()
			found[pair] = byVenue
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}
