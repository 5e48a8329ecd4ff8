// Package engine fans quote attempts out across venues and paths and
// collects every outcome, successful or not.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"swapScope/internal/catalog"
	"swapScope/internal/dex"
	"swapScope/internal/metrics"
	"swapScope/internal/model"
)

// Config bounds the fan-out.
type Config struct {
	Venues         []model.Venue
	Intermediates  []common.Address
	MaxHops        int
	MaxInFlight    int
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
}

// Engine gathers quotes. It is safe for concurrent use.
type Engine struct {
	catalog  catalog.Catalog
	adapters map[model.Protocol]dex.Adapter
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(cat catalog.Catalog, adapters map[model.Protocol]dex.Adapter, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 3 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{catalog: cat, adapters: adapters, cfg: cfg, logger: logger, metrics: m}
}

// GatherQuotes runs one attempt per direct candidate and per synthetic
// multi-hop path. Failed attempts are returned with their failure kind.
// If ctx ends first, the results collected so far are returned with ctx.Err().
func (e *Engine) GatherQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) ([]model.QuoteResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("%w: token in equals token out", model.ErrInvalidPath)
	}
	start := time.Now()

	attempts, err := e.plan(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(int64(e.cfg.MaxInFlight))
	results := make(chan model.QuoteResult, len(attempts))
	order := make(map[string]int, len(attempts))

	launched := 0
	for _, a := range attempts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func(a attempt) {
			defer sem.Release(1)
			results <- e.execute(ctx, a, amountIn)
		}(a)
		order[attemptKey(a.venue, a.path)] = a.index
	}

	collected := make([]model.QuoteResult, 0, launched)
	var waitErr error
collect:
	for len(collected) < launched {
		select {
		case res := <-results:
			collected = append(collected, res)
		case <-ctx.Done():
			waitErr = ctx.Err()
			break collect
		}
	}
	if waitErr == nil {
		waitErr = ctx.Err()
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return order[attemptKey(collected[i].Venue, collected[i].Path)] < order[attemptKey(collected[j].Venue, collected[j].Path)]
	})

	succeeded := 0
	for _, res := range collected {
		if res.OK() {
			succeeded++
		}
	}
	e.logger.Info("quotes gathered",
		zap.String("token_in", tokenIn.Hex()),
		zap.String("token_out", tokenOut.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.Int("candidates", len(attempts)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(collected)-succeeded),
		zap.Bool("partial", waitErr != nil),
		zap.Duration("took", time.Since(start)),
	)
	return collected, waitErr
}

// Requote repeats a previously planned path at a different input size.
func (e *Engine) Requote(ctx context.Context, q model.QuoteResult, amountIn *big.Int) (model.QuoteResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return model.QuoteResult{}, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	res := e.execute(ctx, attempt{venue: q.Venue, path: q.Path, pools: q.Pools}, amountIn)
	if err := res.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, a attempt, amountIn *big.Int) model.QuoteResult {
	start := time.Now()
	res := model.QuoteResult{
		Venue:    a.venue,
		Path:     a.path,
		Pools:    a.pools,
		AmountIn: new(big.Int).Set(amountIn),
	}

	var quote dex.Quote
	tries := 0
	err := withRetry(ctx, 1, e.cfg.RetryBackoff, isTransport, func(ctx context.Context) error {
		tries++
		if tries > 1 {
			e.metrics.Retry()
			e.logger.Warn("retrying quote after transport error",
				zap.String("venue", a.venue.Name),
				zap.String("path", model.PathString(a.path)),
			)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
		var err error
		quote, err = e.call(attemptCtx, a, amountIn)
		return err
	})
	res.Latency = time.Since(start)

	if err != nil {
		qe := dex.Classify(err)
		res.Status = model.QuoteFailed
		res.Failure = qe.Kind
		res.Reason = qe.Reason
		if res.Reason == "" && qe.Err != nil {
			res.Reason = qe.Err.Error()
		}
		e.logger.Debug("quote attempt failed",
			zap.String("venue", a.venue.Name),
			zap.String("path", model.PathString(a.path)),
			zap.String("kind", string(qe.Kind)),
			zap.Error(err),
		)
	} else {
		res.Status = model.QuoteOK
		res.AmountOut = quote.AmountOut
		res.GasEstimate = quote.GasEstimate
	}

	outcome := string(res.Failure)
	if res.Status == model.QuoteOK {
		outcome = "ok"
	}
	e.metrics.ObserveAttempt(string(a.venue.Protocol), outcome, res.Latency)
	return res
}

func (e *Engine) call(ctx context.Context, a attempt, amountIn *big.Int) (dex.Quote, error) {
	adapter, ok := e.adapters[a.venue.Protocol]
	if !ok {
		return dex.Quote{}, model.NewQuoteError(model.FailureAdapterMismatch, "no adapter for "+string(a.venue.Protocol), nil)
	}
	if len(a.path) == 2 {
		pool := model.PoolCandidate{
			Venue:   a.venue,
			FeeTier: a.path[0].Fee,
			TokenA:  a.path[0].Token,
			TokenB:  a.path[1].Token,
		}
		if len(a.pools) > 0 {
			pool.Pool = a.pools[0]
		}
		return adapter.QuoteSingleHop(ctx, pool, a.path[0].Token, a.path[1].Token, amountIn)
	}
	return adapter.QuoteMultiHop(ctx, a.venue, a.path, amountIn)
}

func isTransport(err error) bool {
	return dex.Classify(err).Kind == model.FailureTransport
}

func attemptKey(venue model.Venue, path []model.Hop) string {
	return venue.Name + "/" + model.PathString(path)
}
