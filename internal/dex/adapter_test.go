package dex

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swapScope/internal/chain/chaintest"
	"swapScope/internal/model"
	"swapScope/internal/pathcodec"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000A")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000B")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000000C")
	router = common.HexToAddress("0x1000000000000000000000000000000000000001")
	quoter = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func mustABI(t *testing.T, load func() (abi.ABI, error)) abi.ABI {
	t.Helper()
	parsed, err := load()
	require.NoError(t, err)
	return parsed
}

func v2Venue() model.Venue {
	return model.Venue{Name: "v2", Protocol: model.ProtocolConstantProduct, Router: router}
}

func v3Venue() model.Venue {
	return model.Venue{Name: "v3", Protocol: model.ProtocolConcentratedLiquidity, Quoter: quoter, FeeTiers: []uint32{500}}
}

func TestConstantProductQuote(t *testing.T) {
	fake := chaintest.NewFake()
	routerABI := mustABI(t, RouterV2ABI)
	fake.Handle(router, routerABI.Methods["getAmountsOut"], func(_ context.Context, args []interface{}) ([]interface{}, error) {
		amountIn := args[0].(*big.Int)
		path := args[1].([]common.Address)
		amounts := make([]*big.Int, len(path))
		amounts[0] = amountIn
		for i := 1; i < len(path); i++ {
			amounts[i] = new(big.Int).Div(amounts[i-1], big.NewInt(2))
		}
		return []interface{}{amounts}, nil
	})

	adapter := NewConstantProduct(fake)
	pool := model.PoolCandidate{Venue: v2Venue(), TokenA: tokenA, TokenB: tokenB}

	q, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.AmountOut.Int64())
	assert.Nil(t, q.GasEstimate)

	q, err = adapter.QuoteMultiHop(context.Background(), v2Venue(), []model.Hop{{Token: tokenA}, {Token: tokenB}, {Token: tokenC}}, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(250), q.AmountOut.Int64())

	_, err = adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, model.ErrNoLiquidity)
}

func TestConstantProductFailures(t *testing.T) {
	fake := chaintest.NewFake()
	routerABI := mustABI(t, RouterV2ABI)
	fake.Handle(router, routerABI.Methods["getAmountsOut"], func(_ context.Context, args []interface{}) ([]interface{}, error) {
		if args[0].(*big.Int).Int64() == 1 {
			return nil, chaintest.Revert("PancakeLibrary: INSUFFICIENT_LIQUIDITY")
		}
		if args[0].(*big.Int).Int64() == 2 {
			return nil, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
		}
		return []interface{}{[]*big.Int{big.NewInt(1)}}, nil
	})
	adapter := NewConstantProduct(fake)
	pool := model.PoolCandidate{Venue: v2Venue()}

	_, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, model.ErrNoLiquidity)
	var qe *model.QuoteError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "PancakeLibrary: INSUFFICIENT_LIQUIDITY", qe.Reason)

	_, err = adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(2))
	require.ErrorIs(t, err, model.ErrTransport)

	_, err = adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(3))
	require.ErrorIs(t, err, model.ErrAdapterMismatch)

	missing := model.PoolCandidate{Venue: model.Venue{Name: "gone", Protocol: model.ProtocolConstantProduct, Router: tokenC}}
	_, err = adapter.QuoteSingleHop(context.Background(), missing, tokenA, tokenB, big.NewInt(3))
	require.ErrorIs(t, err, model.ErrAdapterMismatch)
}

func tupleSingleHandler(rate int64) chaintest.HandlerFunc {
	return func(_ context.Context, args []interface{}) ([]interface{}, error) {
		amountIn := args[2].(*big.Int)
		fee := args[3].(*big.Int)
		if fee.Int64() != 500 {
			return nil, chaintest.Revert("")
		}
		out := new(big.Int).Mul(amountIn, big.NewInt(rate))
		return []interface{}{out, big.NewInt(0), uint32(1), big.NewInt(80000)}, nil
	}
}

func positionalSingleHandler(rate int64) chaintest.HandlerFunc {
	return func(_ context.Context, args []interface{}) ([]interface{}, error) {
		amountIn := args[3].(*big.Int)
		return []interface{}{new(big.Int).Mul(amountIn, big.NewInt(rate))}, nil
	}
}

func TestConcentratedTupleShape(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	fake.SetCode(quoter, chaintest.Bytecode(tuple.Methods["quoteExactInputSingle"], tuple.Methods["quoteExactInput"]))
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], tupleSingleHandler(3))

	adapter := NewConcentratedLiquidity(fake, zap.NewNop())
	pool := model.PoolCandidate{Venue: v3Venue(), FeeTier: 500, TokenA: tokenA, TokenB: tokenB}

	for i := 0; i < 3; i++ {
		q, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(10))
		require.NoError(t, err)
		assert.Equal(t, int64(30), q.AmountOut.Int64())
		assert.Equal(t, int64(80000), q.GasEstimate.Int64())
	}
	assert.Equal(t, 1, fake.CodeCalls(), "shape probe must run once per quoter")
	assert.Equal(t, 3, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]))

	pool.FeeTier = 100
	_, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(10))
	require.ErrorIs(t, err, model.ErrNoLiquidity)
}

func TestConcentratedPositionalByTrial(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	positional := mustABI(t, QuoterPositionalABI)
	// Proxy-like code: no selectors visible, so the probe must fall back to trial calls.
	fake.SetCode(quoter, []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73})
	fake.Handle(quoter, positional.Methods["quoteExactInputSingle"], positionalSingleHandler(2))

	adapter := NewConcentratedLiquidity(fake, nil)
	pool := model.PoolCandidate{Venue: v3Venue(), FeeTier: 500, TokenA: tokenA, TokenB: tokenB}

	q, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, int64(14), q.AmountOut.Int64())
	assert.Nil(t, q.GasEstimate)

	_, err = adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(8))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]), "tuple shape tried only during the probe")
}

func TestConcentratedMissingQuoterCachedNegative(t *testing.T) {
	fake := chaintest.NewFake()
	adapter := NewConcentratedLiquidity(fake, nil)
	pool := model.PoolCandidate{Venue: v3Venue(), FeeTier: 500}

	_, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, model.ErrAdapterMismatch)
	_, err = adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, model.ErrAdapterMismatch)
	assert.Equal(t, 1, fake.CodeCalls())
}

func TestConcentratedMultiHopPath(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	fake.SetCode(quoter, chaintest.Bytecode(tuple.Methods["quoteExactInputSingle"], tuple.Methods["quoteExactInput"]))
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], tupleSingleHandler(3))
	fake.Handle(quoter, tuple.Methods["quoteExactInput"], func(_ context.Context, args []interface{}) ([]interface{}, error) {
		hops, err := pathcodec.Decode(args[0].([]byte))
		if err != nil {
			return nil, chaintest.Revert("bad path")
		}
		out := new(big.Int).Set(args[1].(*big.Int))
		for range hops[1:] {
			out.Mul(out, big.NewInt(2))
		}
		return []interface{}{out, []*big.Int{big.NewInt(1), big.NewInt(1)}, []uint32{1, 1}, big.NewInt(150000)}, nil
	})

	adapter := NewConcentratedLiquidity(fake, nil)
	path := []model.Hop{{Token: tokenA, Fee: 500}, {Token: tokenB, Fee: 500}, {Token: tokenC}}
	q, err := adapter.QuoteMultiHop(context.Background(), v3Venue(), path, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(20), q.AmountOut.Int64())
	assert.Equal(t, int64(150000), q.GasEstimate.Int64())
}

func TestConcentratedMultiHopChainedFallback(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	fake.SetCode(quoter, chaintest.Bytecode(tuple.Methods["quoteExactInputSingle"]))
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], tupleSingleHandler(3))

	adapter := NewConcentratedLiquidity(fake, nil)
	path := []model.Hop{{Token: tokenA, Fee: 500}, {Token: tokenB, Fee: 500}, {Token: tokenC}}
	q, err := adapter.QuoteMultiHop(context.Background(), v3Venue(), path, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(45), q.AmountOut.Int64())
	assert.Equal(t, int64(160000), q.GasEstimate.Int64())
	assert.Equal(t, 0, fake.Calls(quoter, tuple.Methods["quoteExactInput"]))
}

// proxyCode has no PUSH4 selectors, like a minimal delegating proxy.
var proxyCode = []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}

func multiHopHandler(rate int64) chaintest.HandlerFunc {
	return func(_ context.Context, args []interface{}) ([]interface{}, error) {
		hops, err := pathcodec.Decode(args[0].([]byte))
		if err != nil {
			return nil, chaintest.Revert("bad path")
		}
		out := new(big.Int).Set(args[1].(*big.Int))
		for range hops[1:] {
			out.Mul(out, big.NewInt(rate))
		}
		return []interface{}{out, []*big.Int{big.NewInt(1), big.NewInt(1)}, []uint32{1, 1}, big.NewInt(150000)}, nil
	}
}

func TestConcentratedBothShapesMismatchCachedNegative(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	positional := mustABI(t, QuoterPositionalABI)
	fake.SetCode(quoter, proxyCode)
	rejects := func(context.Context, []interface{}) ([]interface{}, error) { return nil, invalidParamsError{} }
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], rejects)
	fake.Handle(quoter, positional.Methods["quoteExactInputSingle"], rejects)

	adapter := NewConcentratedLiquidity(fake, nil)
	pool := model.PoolCandidate{Venue: v3Venue(), FeeTier: 500, TokenA: tokenA, TokenB: tokenB}

	for i := 0; i < 2; i++ {
		_, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(10))
		require.ErrorIs(t, err, model.ErrAdapterMismatch)
	}
	assert.Equal(t, 1, fake.CodeCalls())
	assert.Equal(t, 1, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]))
	assert.Equal(t, 1, fake.Calls(quoter, positional.Methods["quoteExactInputSingle"]))
}

func TestConcentratedBareRevertsNotCached(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	positional := mustABI(t, QuoterPositionalABI)
	fake.SetCode(quoter, proxyCode)

	adapter := NewConcentratedLiquidity(fake, nil)
	pool := model.PoolCandidate{Venue: v3Venue(), FeeTier: 500, TokenA: tokenA, TokenB: tokenB}

	_, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(10))
	require.ErrorIs(t, err, model.ErrNoLiquidity)
	assert.Equal(t, 1, fake.CodeCalls())

	fake.Handle(quoter, positional.Methods["quoteExactInputSingle"], positionalSingleHandler(2))
	q, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(20), q.AmountOut.Int64())
	assert.Equal(t, 2, fake.CodeCalls(), "inconclusive shape detection is repeated")
	assert.Equal(t, 2, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]))
}

func TestConcentratedConfiguredShapeSkipsTrials(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	positional := mustABI(t, QuoterPositionalABI)
	fake.SetCode(quoter, proxyCode)
	fake.Handle(quoter, positional.Methods["quoteExactInputSingle"], positionalSingleHandler(4))

	venue := v3Venue()
	venue.QuoterShape = model.ShapePositional
	adapter := NewConcentratedLiquidity(fake, nil)
	pool := model.PoolCandidate{Venue: venue, FeeTier: 500, TokenA: tokenA, TokenB: tokenB}

	q, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(12), q.AmountOut.Int64())
	assert.Equal(t, 0, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]))
	assert.Equal(t, 1, fake.Calls(quoter, positional.Methods["quoteExactInputSingle"]))
}

func TestConcentratedAutoOnProxyKeepsPathAfterRevert(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	fake.SetCode(quoter, proxyCode)
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], tupleSingleHandler(3))
	success := multiHopHandler(2)
	var mu sync.Mutex
	calls := 0
	fake.Handle(quoter, tuple.Methods["quoteExactInput"], func(ctx context.Context, args []interface{}) ([]interface{}, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return nil, chaintest.Revert("")
		}
		return success(ctx, args)
	})

	venue := v3Venue()
	venue.QuoterShape = model.ShapeTuple
	venue.MultiHop = model.MultiHopAuto
	adapter := NewConcentratedLiquidity(fake, nil)
	path := []model.Hop{{Token: tokenA, Fee: 500}, {Token: tokenB, Fee: 500}, {Token: tokenC}}

	_, err := adapter.QuoteMultiHop(context.Background(), venue, path, big.NewInt(5))
	require.ErrorIs(t, err, model.ErrNoLiquidity)

	q, err := adapter.QuoteMultiHop(context.Background(), venue, path, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(20), q.AmountOut.Int64())
	assert.Equal(t, 2, fake.Calls(quoter, tuple.Methods["quoteExactInput"]))
	assert.Equal(t, 0, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]), "one revert must not switch to chaining")
}

func TestConcentratedExplicitPathMode(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	// Only the single-hop selector is visible; path mode still calls quoteExactInput.
	fake.SetCode(quoter, chaintest.Bytecode(tuple.Methods["quoteExactInputSingle"]))
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], tupleSingleHandler(3))
	fake.Handle(quoter, tuple.Methods["quoteExactInput"], multiHopHandler(2))

	venue := v3Venue()
	venue.MultiHop = model.MultiHopPath
	adapter := NewConcentratedLiquidity(fake, nil)
	path := []model.Hop{{Token: tokenA, Fee: 500}, {Token: tokenB, Fee: 500}, {Token: tokenC}}

	q, err := adapter.QuoteMultiHop(context.Background(), venue, path, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(20), q.AmountOut.Int64())
	assert.Equal(t, 1, fake.Calls(quoter, tuple.Methods["quoteExactInput"]))
	assert.Equal(t, 0, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]))
}

func TestConcentratedExplicitChainedMode(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	fake.SetCode(quoter, chaintest.Bytecode(tuple.Methods["quoteExactInputSingle"], tuple.Methods["quoteExactInput"]))
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], tupleSingleHandler(3))
	fake.Handle(quoter, tuple.Methods["quoteExactInput"], multiHopHandler(2))

	venue := v3Venue()
	venue.MultiHop = model.MultiHopChained
	adapter := NewConcentratedLiquidity(fake, nil)
	path := []model.Hop{{Token: tokenA, Fee: 500}, {Token: tokenB, Fee: 500}, {Token: tokenC}}

	q, err := adapter.QuoteMultiHop(context.Background(), venue, path, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(45), q.AmountOut.Int64())
	assert.Equal(t, 0, fake.Calls(quoter, tuple.Methods["quoteExactInput"]))
	assert.Equal(t, 2, fake.Calls(quoter, tuple.Methods["quoteExactInputSingle"]))
}

func TestConcentratedShapeLookupSurvivesCancelledCaller(t *testing.T) {
	fake := chaintest.NewFake()
	tuple := mustABI(t, QuoterTupleABI)
	fake.SetCode(quoter, proxyCode)
	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	single := tupleSingleHandler(3)
	fake.Handle(quoter, tuple.Methods["quoteExactInputSingle"], func(ctx context.Context, args []interface{}) ([]interface{}, error) {
		once.Do(func() { close(entered) })
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return single(ctx, args)
	})

	adapter := NewConcentratedLiquidity(fake, nil)
	pool := model.PoolCandidate{Venue: v3Venue(), FeeTier: 500, TokenA: tokenA, TokenB: tokenB}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := adapter.QuoteSingleHop(ctxA, pool, tokenA, tokenB, big.NewInt(10))
		errA <- err
	}()
	<-entered

	type result struct {
		q   Quote
		err error
	}
	resB := make(chan result, 1)
	go func() {
		q, err := adapter.QuoteSingleHop(context.Background(), pool, tokenA, tokenB, big.NewInt(10))
		resB <- result{q, err}
	}()

	cancelA()
	err := <-errA
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, model.ErrTransport)

	close(gate)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, int64(30), b.q.AmountOut.Int64())
}

type invalidParamsError struct{}

func (invalidParamsError) Error() string  { return "invalid argument 0: hex string has odd length" }
func (invalidParamsError) ErrorCode() int { return -32602 }

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	qe := Classify(chaintest.Revert("STF"))
	assert.Equal(t, model.FailureNoLiquidity, qe.Kind)
	assert.Equal(t, "STF", qe.Reason)

	qe = Classify(chaintest.Revert(""))
	assert.Equal(t, model.FailureNoLiquidity, qe.Kind)
	assert.Empty(t, qe.Reason)

	assert.Equal(t, model.FailureAdapterMismatch, Classify(invalidParamsError{}).Kind)
	assert.Equal(t, model.FailureTransport, Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, model.FailureTransport, Classify(errors.New("502 bad gateway")).Kind)
	assert.Equal(t, model.FailureNoLiquidity, Classify(errors.New("execution reverted: Too little received")).Kind)
}
