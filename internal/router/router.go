// Package router picks the execution plan from a set of quotes.
package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapScope/internal/model"
)

// Requoter prices an already-known path at another input size.
type Requoter interface {
	Requote(ctx context.Context, q model.QuoteResult, amountIn *big.Int) (model.QuoteResult, error)
}

// Config controls split routing. Tolerance is the largest relative output gap
// between the two best paths for which a split is tried.
type Config struct {
	Split     bool
	Tolerance *big.Rat
	Steps     int
}

type Router struct {
	cfg      Config
	requoter Requoter
	logger   *zap.Logger
}

func New(cfg Config, requoter Requoter, logger *zap.Logger) *Router {
	if cfg.Steps <= 0 {
		cfg.Steps = 20
	}
	if cfg.Tolerance == nil {
		cfg.Tolerance = big.NewRat(5, 1000)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, requoter: requoter, logger: logger}
}

// SelectBestRoute returns the best single path, or a two-way split when
// enabled and strictly better. The route's allocations always sum to amountIn.
func (r *Router) SelectBestRoute(ctx context.Context, quotes []model.QuoteResult, amountIn *big.Int) (model.Route, error) {
	ranked := Rank(quotes)
	if len(ranked) == 0 {
		return model.Route{}, fmt.Errorf("%w: %d attempts, none succeeded", model.ErrAllRoutesExhausted, len(quotes))
	}

	best := ranked[0]
	route := model.Route{
		AmountIn:    new(big.Int).Set(amountIn),
		AmountOut:   new(big.Int).Set(best.AmountOut),
		Allocations: []model.Allocation{{Quote: best, AmountIn: new(big.Int).Set(amountIn), AmountOut: new(big.Int).Set(best.AmountOut)}},
		PriceImpact: best.PriceImpact,
		Attempts:    len(quotes),
		Succeeded:   len(ranked),
	}

	if !r.cfg.Split || r.requoter == nil || len(ranked) < 2 {
		return route, nil
	}
	second := ranked[1]
	if !r.withinTolerance(best, second) || sharePool(best, second) {
		return route, nil
	}

	split, ok := r.split(ctx, best, second, amountIn)
	if !ok || split[0].AmountOut.Sign() == 0 {
		return route, nil
	}
	total := new(big.Int)
	for _, alloc := range split {
		total.Add(total, alloc.AmountOut)
	}
	if total.Cmp(best.AmountOut) <= 0 {
		return route, nil
	}

	r.logger.Debug("split route selected",
		zap.String("first", best.ID()),
		zap.String("second", second.ID()),
		zap.String("single_out", best.AmountOut.String()),
		zap.String("split_out", total.String()),
	)
	route.Allocations = split
	route.AmountOut = total
	route.Split = true
	route.PriceImpact = nil
	return route, nil
}

func (r *Router) withinTolerance(best, second model.QuoteResult) bool {
	gap := new(big.Rat).SetFrac(new(big.Int).Sub(best.AmountOut, second.AmountOut), best.AmountOut)
	return gap.Cmp(r.cfg.Tolerance) <= 0
}

// split hands out fixed increments one at a time to whichever path gains
// more output from it, repricing that path at its new size. Integer
// remainder goes to the first path that holds an allocation, so it is never
// quoted on its own.
func (r *Router) split(ctx context.Context, first, second model.QuoteResult, amountIn *big.Int) ([]model.Allocation, bool) {
	steps := big.NewInt(int64(r.cfg.Steps))
	inc := new(big.Int).Quo(amountIn, steps)
	if inc.Sign() == 0 {
		return nil, false
	}
	remainder := new(big.Int).Sub(amountIn, new(big.Int).Mul(inc, steps))

	type side struct {
		quote   model.QuoteResult
		alloc   *big.Int
		out     *big.Int
		next    *big.Int
		nextOut *big.Int
	}
	sides := [2]*side{
		{quote: first, alloc: new(big.Int), out: new(big.Int)},
		{quote: second, alloc: new(big.Int), out: new(big.Int)},
	}

	price := func(s *side) bool {
		if s.nextOut != nil {
			return true
		}
		s.next = new(big.Int).Add(s.alloc, inc)
		q, err := r.requoter.Requote(ctx, s.quote, s.next)
		if err != nil {
			r.logger.Debug("split requote failed", zap.String("path", s.quote.ID()), zap.Error(err))
			return false
		}
		s.nextOut = q.AmountOut
		return true
	}

	for i := 0; i < r.cfg.Steps; i++ {
		if !price(sides[0]) || !price(sides[1]) {
			return nil, false
		}
		gain0 := new(big.Int).Sub(sides[0].nextOut, sides[0].out)
		gain1 := new(big.Int).Sub(sides[1].nextOut, sides[1].out)
		pick := sides[0]
		if gain1.Cmp(gain0) > 0 {
			pick = sides[1]
		}
		pick.alloc, pick.out = pick.next, pick.nextOut
		pick.next, pick.nextOut = nil, nil
	}

	if remainder.Sign() > 0 {
		s := sides[0]
		if s.alloc.Sign() == 0 {
			s = sides[1]
		}
		s.alloc = new(big.Int).Add(s.alloc, remainder)
		q, err := r.requoter.Requote(ctx, s.quote, s.alloc)
		if err != nil {
			return nil, false
		}
		s.out = q.AmountOut
	}

	out := make([]model.Allocation, 0, 2)
	for _, s := range sides {
		if s.alloc.Sign() == 0 {
			continue
		}
		out = append(out, model.Allocation{Quote: s.quote, AmountIn: s.alloc, AmountOut: s.out})
	}
	if len(out) < 2 {
		return nil, false
	}
	return out, true
}

func sharePool(a, b model.QuoteResult) bool {
	seen := make(map[common.Address]struct{}, len(a.Pools))
	for _, p := range a.Pools {
		if p != (common.Address{}) {
			seen[p] = struct{}{}
		}
	}
	for _, p := range b.Pools {
		if _, ok := seen[p]; ok {
			return true
		}
	}
	return false
}
