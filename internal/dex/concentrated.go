package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"swapScope/internal/chain"
	"swapScope/internal/model"
	"swapScope/internal/pathcodec"
)

const (
	opPush4      = 0x63
	probeTimeout = 10 * time.Second
)

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// quoterProfile is what the one-time probe learned about a quoter contract.
type quoterProfile struct {
	shape    model.QuoterShape
	multiHop bool
	err      *model.QuoteError
}

// ConcentratedLiquidity quotes through a V3-style quoter. The call shape of
// each quoter contract is probed once and cached, including negative results.
type ConcentratedLiquidity struct {
	caller chain.Caller
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[common.Address]quoterProfile
	group    singleflight.Group
}

func NewConcentratedLiquidity(caller chain.Caller, logger *zap.Logger) *ConcentratedLiquidity {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConcentratedLiquidity{
		caller:   caller,
		logger:   logger,
		profiles: make(map[common.Address]quoterProfile),
	}
}

func (a *ConcentratedLiquidity) QuoteSingleHop(ctx context.Context, pool model.PoolCandidate, tokenIn, tokenOut common.Address, amountIn *big.Int) (Quote, error) {
	profile, err := a.profile(ctx, pool.Venue, tokenIn, tokenOut, pool.FeeTier, amountIn)
	if err != nil {
		return Quote{}, err
	}
	return a.callSingle(ctx, pool.Venue.Quoter, profile.shape, tokenIn, tokenOut, pool.FeeTier, amountIn)
}

// QuoteMultiHop quotes an encoded path, or composes single-hop quotes when the
// venue is set to chained mode or its quoter has no multi-hop entry point.
func (a *ConcentratedLiquidity) QuoteMultiHop(ctx context.Context, venue model.Venue, path []model.Hop, amountIn *big.Int) (Quote, error) {
	if len(path) < 2 {
		return Quote{}, mismatch("path", fmt.Errorf("%w: %d tokens", model.ErrInvalidPath, len(path)))
	}
	if len(path) == 2 {
		pool := model.PoolCandidate{Venue: venue, FeeTier: path[0].Fee, TokenA: path[0].Token, TokenB: path[1].Token}
		return a.QuoteSingleHop(ctx, pool, path[0].Token, path[1].Token, amountIn)
	}

	profile, err := a.profile(ctx, venue, path[0].Token, path[1].Token, path[0].Fee, amountIn)
	if err != nil {
		return Quote{}, err
	}

	switch venue.MultiHop {
	case model.MultiHopChained:
		return a.quoteChained(ctx, venue, profile.shape, path, amountIn)
	case model.MultiHopPath:
		return a.quotePath(ctx, venue.Quoter, profile.shape, path, amountIn)
	default:
		if !profile.multiHop {
			return a.quoteChained(ctx, venue, profile.shape, path, amountIn)
		}
		return a.quotePath(ctx, venue.Quoter, profile.shape, path, amountIn)
	}
}

func (a *ConcentratedLiquidity) quoteChained(ctx context.Context, venue model.Venue, shape model.QuoterShape, path []model.Hop, amountIn *big.Int) (Quote, error) {
	amount := amountIn
	gas := new(big.Int)
	haveGas := false
	for i := 0; i < len(path)-1; i++ {
		leg, err := a.callSingle(ctx, venue.Quoter, shape, path[i].Token, path[i+1].Token, path[i].Fee, amount)
		if err != nil {
			return Quote{}, err
		}
		amount = leg.AmountOut
		if leg.GasEstimate != nil {
			gas.Add(gas, leg.GasEstimate)
			haveGas = true
		}
	}
	out := Quote{AmountOut: amount}
	if haveGas {
		out.GasEstimate = gas
	}
	return out, nil
}

func (a *ConcentratedLiquidity) quotePath(ctx context.Context, quoter common.Address, shape model.QuoterShape, path []model.Hop, amountIn *big.Int) (Quote, error) {
	encoded, err := pathcodec.Encode(path)
	if err != nil {
		return Quote{}, mismatch("encode path", err)
	}
	parsed, err := quoterABI(shape)
	if err != nil {
		return Quote{}, mismatch("quoter abi", err)
	}
	values, err := callMethod(ctx, a.caller, quoter, parsed, "quoteExactInput", encoded, amountIn)
	if err != nil {
		return Quote{}, err
	}
	return quoteFromValues(shape, values)
}

func (a *ConcentratedLiquidity) callSingle(ctx context.Context, quoter common.Address, shape model.QuoterShape, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (Quote, error) {
	parsed, err := quoterABI(shape)
	if err != nil {
		return Quote{}, mismatch("quoter abi", err)
	}
	feeArg := new(big.Int).SetUint64(uint64(fee))

	var values []interface{}
	if shape == model.ShapeTuple {
		params := quoteExactInputSingleParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			AmountIn:          amountIn,
			Fee:               feeArg,
			SqrtPriceLimitX96: new(big.Int),
		}
		values, err = callMethod(ctx, a.caller, quoter, parsed, "quoteExactInputSingle", params)
	} else {
		values, err = callMethod(ctx, a.caller, quoter, parsed, "quoteExactInputSingle", tokenIn, tokenOut, feeArg, amountIn, new(big.Int))
	}
	if err != nil {
		return Quote{}, err
	}
	return quoteFromValues(shape, values)
}

func quoteFromValues(shape model.QuoterShape, values []interface{}) (Quote, error) {
	out, err := asBigInt(values[0])
	if err != nil {
		return Quote{}, mismatch("amountOut", err)
	}
	if out.Sign() <= 0 {
		return Quote{}, noLiquidity("zero output")
	}
	quote := Quote{AmountOut: out}
	if shape == model.ShapeTuple && len(values) >= 4 {
		if gas, err := asBigInt(values[3]); err == nil {
			quote.GasEstimate = gas
		}
	}
	return quote, nil
}

func quoterABI(shape model.QuoterShape) (abi.ABI, error) {
	switch shape {
	case model.ShapeTuple:
		return QuoterTupleABI()
	case model.ShapePositional:
		return QuoterPositionalABI()
	default:
		return abi.ABI{}, fmt.Errorf("unknown quoter shape %q", shape)
	}
}

// profile returns the cached quoter profile, probing once per quoter address.
// Only conclusive probes are cached; transport failures and probes that only
// saw bare reverts are retried on the next call.
func (a *ConcentratedLiquidity) profile(ctx context.Context, venue model.Venue, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (quoterProfile, error) {
	a.mu.RLock()
	cached, ok := a.profiles[venue.Quoter]
	a.mu.RUnlock()
	if ok {
		if cached.err != nil {
			return cached, cached.err
		}
		return cached, nil
	}

	// The probe runs detached; ctx only bounds this caller's wait.
	ch := a.group.DoChan(venue.Quoter.Hex(), func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()
		profile, conclusive, err := a.probe(probeCtx, venue, tokenIn, tokenOut, fee, amountIn)
		if conclusive {
			a.mu.Lock()
			a.profiles[venue.Quoter] = profile
			a.mu.Unlock()
			a.logger.Debug("quoter profile cached",
				zap.String("venue", venue.Name),
				zap.String("quoter", venue.Quoter.Hex()),
				zap.String("shape", string(profile.shape)),
				zap.Bool("multihop", profile.multiHop),
				zap.Bool("mismatch", profile.err != nil),
			)
		}
		return profile, err
	})
	select {
	case <-ctx.Done():
		return quoterProfile{}, Classify(ctx.Err())
	case res := <-ch:
		profile, _ := res.Val.(quoterProfile)
		if res.Err != nil {
			return profile, Classify(res.Err)
		}
		return profile, nil
	}
}

func (a *ConcentratedLiquidity) probe(ctx context.Context, venue model.Venue, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (quoterProfile, bool, error) {
	tupleABI, err := QuoterTupleABI()
	if err != nil {
		return quoterProfile{}, false, err
	}
	positionalABI, err := QuoterPositionalABI()
	if err != nil {
		return quoterProfile{}, false, err
	}

	code, err := a.caller.CodeAt(ctx, venue.Quoter, nil)
	if err != nil {
		return quoterProfile{}, false, Classify(err)
	}
	if len(code) == 0 {
		negative := mismatch("quoter", fmt.Errorf("no contract code at %s", venue.Quoter.Hex()))
		return quoterProfile{err: negative}, true, negative
	}

	hasTuple := hasSelector(code, tupleABI.Methods["quoteExactInputSingle"].ID)
	hasPositional := hasSelector(code, positionalABI.Methods["quoteExactInputSingle"].ID)
	hasMulti := hasSelector(code, tupleABI.Methods["quoteExactInput"].ID)
	// Proxies and unusual dispatchers hide selectors; assume the full surface then.
	multiHop := hasMulti || (!hasTuple && !hasPositional)

	switch {
	case venue.QuoterShape != model.ShapeUnknown:
		return quoterProfile{shape: venue.QuoterShape, multiHop: multiHop}, true, nil
	case hasTuple:
		return quoterProfile{shape: model.ShapeTuple, multiHop: multiHop}, true, nil
	case hasPositional:
		return quoterProfile{shape: model.ShapePositional, multiHop: multiHop}, true, nil
	}

	var firstErr error
	mismatches := 0
	for _, shape := range []model.QuoterShape{model.ShapeTuple, model.ShapePositional} {
		_, err := a.callSingle(ctx, venue.Quoter, shape, tokenIn, tokenOut, fee, amountIn)
		if accepted(err) {
			return quoterProfile{shape: shape, multiHop: multiHop}, true, nil
		}
		qe := Classify(err)
		if qe.Kind == model.FailureTransport {
			return quoterProfile{}, false, qe
		}
		if qe.Kind == model.FailureAdapterMismatch {
			mismatches++
		}
		if firstErr == nil {
			firstErr = qe
		}
	}
	if mismatches == 2 {
		negative := mismatch("quoter", fmt.Errorf("no supported call shape at %s", venue.Quoter.Hex()))
		return quoterProfile{err: negative}, true, negative
	}
	return quoterProfile{}, false, firstErr
}

// accepted reports whether a trial call proves the shape is understood:
// either it returned decodable data or it reverted with a decoded reason.
func accepted(err error) bool {
	if err == nil {
		return true
	}
	var qe *model.QuoteError
	if errors.As(err, &qe) {
		return qe.Kind == model.FailureNoLiquidity && qe.Reason != ""
	}
	return false
}

func hasSelector(code []byte, selector []byte) bool {
	if len(selector) < 4 {
		return false
	}
	needle := append([]byte{opPush4}, selector[:4]...)
	return bytes.Contains(code, needle)
}
