// Package quoter answers best-quote requests: it resolves tokens, gathers
// quotes across venues, measures price impact and picks the route.
package quoter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapScope/internal/metrics"
	"swapScope/internal/model"
	"swapScope/internal/price"
	"swapScope/internal/router"
	"swapScope/internal/storage"
)

// TokenResolver looks up token metadata.
type TokenResolver interface {
	Resolve(ctx context.Context, addr common.Address) (model.Token, error)
}

// Gatherer produces quotes for a pair and can reprice a known path.
type Gatherer interface {
	GatherQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) ([]model.QuoteResult, error)
	router.Requoter
}

type Config struct {
	// WrappedNative stands in for the native token when quoting.
	WrappedNative  common.Address
	PriceImpact    bool
	ImpactProbeBps int64
	// ImpactConcurrency bounds the reference-size requotes.
	ImpactConcurrency int
	Router            router.Config
}

type Service struct {
	tokens   TokenResolver
	gatherer Gatherer
	router   *router.Router
	recorder storage.Recorder
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(tokens TokenResolver, gatherer Gatherer, cfg Config, recorder storage.Recorder, logger *zap.Logger, m *metrics.Metrics) *Service {
	if cfg.ImpactProbeBps <= 0 {
		cfg.ImpactProbeBps = 10
	}
	if cfg.ImpactConcurrency <= 0 {
		cfg.ImpactConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tokens:   tokens,
		gatherer: gatherer,
		router:   router.New(cfg.Router, gatherer, logger),
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// GetBestQuote returns the best route for amountIn raw units of tokenIn.
// It fails with ErrTokenNotFound when either token has no contract and with
// ErrAllRoutesExhausted when no attempt succeeded.
func (s *Service) GetBestQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (model.Route, error) {
	start := time.Now()
	route, err := s.getBestQuote(ctx, tokenIn, tokenOut, amountIn)
	s.metrics.ObserveRequest(requestStatus(err), time.Since(start))
	return route, err
}

// GetBestQuoteUnits is GetBestQuote with a human decimal amount such as "1.5".
func (s *Service) GetBestQuoteUnits(ctx context.Context, tokenIn, tokenOut common.Address, units string) (model.Route, error) {
	in, err := s.tokens.Resolve(ctx, tokenIn)
	if err != nil {
		s.metrics.ObserveRequest(requestStatus(err), 0)
		return model.Route{}, err
	}
	amountIn, err := price.ParseUnits(units, in.Decimals)
	if err != nil {
		s.metrics.ObserveRequest(requestStatus(err), 0)
		return model.Route{}, err
	}
	return s.GetBestQuote(ctx, tokenIn, tokenOut, amountIn)
}

func (s *Service) getBestQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (model.Route, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return model.Route{}, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}

	in, err := s.tokens.Resolve(ctx, tokenIn)
	if err != nil {
		return model.Route{}, err
	}
	out, err := s.tokens.Resolve(ctx, tokenOut)
	if err != nil {
		return model.Route{}, err
	}

	quoteIn, err := s.quotable(in)
	if err != nil {
		return model.Route{}, err
	}
	quoteOut, err := s.quotable(out)
	if err != nil {
		return model.Route{}, err
	}
	if quoteIn == quoteOut {
		return model.Route{}, fmt.Errorf("%w: %s and %s quote as the same token", model.ErrInvalidPath, in.Label(), out.Label())
	}

	quotes, err := s.gatherer.GatherQuotes(ctx, quoteIn, quoteOut, amountIn)
	if err != nil {
		return model.Route{}, err
	}

	var refRates map[string]*big.Rat
	if s.cfg.PriceImpact {
		refRates = s.measureImpact(ctx, quotes, amountIn, in.Decimals, out.Decimals)
		if err := ctx.Err(); err != nil {
			return model.Route{}, err
		}
	}

	route, err := s.router.SelectBestRoute(ctx, quotes, amountIn)
	if err != nil {
		s.logger.Warn("no route",
			zap.String("token_in", in.Label()),
			zap.String("token_out", out.Label()),
			zap.String("amount_in", amountIn.String()),
			zap.Int("attempts", len(quotes)),
		)
		return model.Route{}, err
	}
	route.TokenIn, route.TokenOut = in, out
	normalized, err := price.Normalize(
		model.Amount{Raw: route.AmountIn, Decimals: in.Decimals},
		model.Amount{Raw: route.AmountOut, Decimals: out.Decimals},
	)
	if err != nil {
		return model.Route{}, err
	}
	route.Rate = normalized.Rate
	if route.Split && refRates != nil {
		route.PriceImpact = splitImpact(route, refRates)
	}

	s.logger.Info("best route",
		zap.String("token_in", in.Label()),
		zap.String("token_out", out.Label()),
		zap.String("amount_in", price.FormatAmount(route.AmountIn, in.Decimals)),
		zap.String("amount_out", price.FormatAmount(route.AmountOut, out.Decimals)),
		zap.String("rate", price.FormatRate(route.Rate)),
		zap.String("path", route.Allocations[0].Quote.ID()),
		zap.Bool("split", route.Split),
	)
	s.record(ctx, route, quotes)
	return route, nil
}

// quotable maps the native sentinel onto the wrapped-native token, which is
// what routers and quoters actually trade.
func (s *Service) quotable(tok model.Token) (common.Address, error) {
	if !tok.Native {
		return tok.Address, nil
	}
	if s.cfg.WrappedNative == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: native token requires wrapped-native", model.ErrInvalidPath)
	}
	return s.cfg.WrappedNative, nil
}

// measureImpact requotes every successful path at the reference size and
// stores the impact on the quote in place. It returns the reference rates by
// path id. Probe failures leave the impact unknown.
func (s *Service) measureImpact(ctx context.Context, quotes []model.QuoteResult, amountIn *big.Int, decIn, decOut uint8) map[string]*big.Rat {
	ref := price.ReferenceAmount(amountIn, s.cfg.ImpactProbeBps)
	refRates := make(map[string]*big.Rat, len(quotes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ImpactConcurrency)
	for i := range quotes {
		if !quotes[i].OK() {
			continue
		}
		i := i
		g.Go(func() error {
			q := &quotes[i]
			probe, err := s.gatherer.Requote(gctx, *q, ref)
			if err != nil {
				s.logger.Debug("impact probe failed", zap.String("path", q.ID()), zap.Error(err))
				return nil
			}
			refRate, err := price.Rate(model.Amount{Raw: ref, Decimals: decIn}, model.Amount{Raw: probe.AmountOut, Decimals: decOut})
			if err != nil {
				return nil
			}
			rate, err := price.Rate(model.Amount{Raw: q.AmountIn, Decimals: decIn}, model.Amount{Raw: q.AmountOut, Decimals: decOut})
			if err != nil {
				return nil
			}
			q.PriceImpact = price.Impact(rate, refRate)
			mu.Lock()
			refRates[q.ID()] = refRate
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return refRates
}

// splitImpact compares the blended rate with the best reference rate among
// the paths used.
func splitImpact(route model.Route, refRates map[string]*big.Rat) *big.Rat {
	var best *big.Rat
	for _, alloc := range route.Allocations {
		r, ok := refRates[alloc.Quote.ID()]
		if !ok {
			return nil
		}
		if best == nil || r.Cmp(best) > 0 {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	return price.Impact(route.Rate, best)
}

func (s *Service) record(ctx context.Context, route model.Route, quotes []model.QuoteResult) {
	if s.recorder == nil {
		return
	}
	report := storage.NewRouteReport(s.now(), route, quotes)
	if err := s.recorder.RecordRoute(ctx, report); err != nil {
		s.logger.Warn("record route failed", zap.Error(err))
	}
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrAllRoutesExhausted):
		return "exhausted"
	case errors.Is(err, model.ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, model.ErrTokenMetadataUnavailable):
		return "metadata_unavailable"
	case errors.Is(err, model.ErrInvalidAmount), errors.Is(err, model.ErrInvalidPath):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
