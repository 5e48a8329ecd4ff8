package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapScope/internal/catalog"
	"swapScope/internal/chain/chaintest"
	"swapScope/internal/dex"
	"swapScope/internal/model"
)

var (
	tokA   = common.HexToAddress("0x000000000000000000000000000000000000000A")
	tokB   = common.HexToAddress("0x000000000000000000000000000000000000000B")
	tokM   = common.HexToAddress("0x000000000000000000000000000000000000000C")
	tokN   = common.HexToAddress("0x000000000000000000000000000000000000000D")
	router = common.HexToAddress("0x1000000000000000000000000000000000000001")
	quoter = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func v2Venue() model.Venue {
	return model.Venue{Name: "v2", Protocol: model.ProtocolConstantProduct, Router: router}
}

func v3Venue(tiers ...uint32) model.Venue {
	return model.Venue{Name: "v3", Protocol: model.ProtocolConcentratedLiquidity, Quoter: quoter, FeeTiers: tiers, QuoterShape: model.ShapeTuple, MultiHop: model.MultiHopChained}
}

// rateTable prices pair hops as out = in * num / den.
type rateTable map[[2]common.Address][2]int64

func (r rateTable) apply(from, to common.Address, amount *big.Int) (*big.Int, bool) {
	rate, ok := r[[2]common.Address{from, to}]
	if !ok {
		return nil, false
	}
	out := new(big.Int).Mul(amount, big.NewInt(rate[0]))
	return out.Div(out, big.NewInt(rate[1])), true
}

func handleRouter(t *testing.T, fake *chaintest.Fake, rates rateTable) {
	t.Helper()
	parsed, err := dex.RouterV2ABI()
	require.NoError(t, err)
	fake.Handle(router, parsed.Methods["getAmountsOut"], func(_ context.Context, args []interface{}) ([]interface{}, error) {
		path := args[1].([]common.Address)
		amounts := []*big.Int{args[0].(*big.Int)}
		for i := 0; i < len(path)-1; i++ {
			next, ok := rates.apply(path[i], path[i+1], amounts[i])
			if !ok {
				return nil, chaintest.Revert("")
			}
			amounts = append(amounts, next)
		}
		return []interface{}{amounts}, nil
	})
}

func handleQuoter(t *testing.T, fake *chaintest.Fake, fn func(ctx context.Context, fee int64, in *big.Int) (*big.Int, error)) {
	t.Helper()
	parsed, err := dex.QuoterTupleABI()
	require.NoError(t, err)
	fake.SetCode(quoter, chaintest.Bytecode(parsed.Methods["quoteExactInputSingle"]))
	fake.Handle(quoter, parsed.Methods["quoteExactInputSingle"], func(ctx context.Context, args []interface{}) ([]interface{}, error) {
		out, err := fn(ctx, args[3].(*big.Int).Int64(), args[2].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []interface{}{out, big.NewInt(0), uint32(0), big.NewInt(90000)}, nil
	})
}

func newEngine(fake *chaintest.Fake, cfg Config) *Engine {
	return New(catalog.NewStatic(cfg.Venues), dex.NewAdapters(fake, nil), cfg, nil, nil)
}

func TestNineOfTenNoLiquidityStillSucceeds(t *testing.T) {
	fake := chaintest.NewFake()
	tiers := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 500}
	handleQuoter(t, fake, func(_ context.Context, fee int64, in *big.Int) (*big.Int, error) {
		if fee != 500 {
			return nil, chaintest.Revert("")
		}
		return new(big.Int).Mul(in, big.NewInt(2)), nil
	})

	e := newEngine(fake, Config{Venues: []model.Venue{v3Venue(tiers...)}, MaxHops: 1, MaxInFlight: 4})
	results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, results, 10)

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
			assert.Equal(t, int64(200), r.AmountOut.Int64())
			assert.Equal(t, int64(90000), r.GasEstimate.Int64())
			continue
		}
		assert.Equal(t, model.FailureNoLiquidity, r.Failure)
	}
	assert.Equal(t, 1, ok)
}

func TestSyntheticMultiHopPaths(t *testing.T) {
	fake := chaintest.NewFake()
	handleRouter(t, fake, rateTable{
		{tokA, tokM}: {3, 1},
		{tokM, tokB}: {2, 1},
		{tokM, tokN}: {1, 1},
		{tokN, tokB}: {5, 1},
	})

	e := newEngine(fake, Config{
		Venues:        []model.Venue{v2Venue()},
		Intermediates: []common.Address{tokM, tokN, tokA},
		MaxHops:       3,
		MaxInFlight:   2,
	})
	results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(10))
	require.NoError(t, err)

	byID := map[string]model.QuoteResult{}
	for _, r := range results {
		byID[model.PathString(r.Path)] = r
	}
	direct := byID[model.PathString([]model.Hop{{Token: tokA}, {Token: tokB}})]
	assert.Equal(t, model.FailureNoLiquidity, direct.Failure)

	twoHop := byID[model.PathString([]model.Hop{{Token: tokA}, {Token: tokM}, {Token: tokB}})]
	require.True(t, twoHop.OK())
	assert.Equal(t, int64(60), twoHop.AmountOut.Int64())

	threeHop := byID[model.PathString([]model.Hop{{Token: tokA}, {Token: tokM}, {Token: tokN}, {Token: tokB}})]
	require.True(t, threeHop.OK())
	assert.Equal(t, int64(150), threeHop.AmountOut.Int64())
	assert.Equal(t, 3, threeHop.HopCount())

	// direct, two 2-hop paths, two 3-hop paths; tokA is skipped as an intermediate.
	assert.Len(t, results, 5)
}

func TestInFlightBound(t *testing.T) {
	fake := chaintest.NewFake()
	var current, peak int32
	handleQuoter(t, fake, func(_ context.Context, fee int64, in *big.Int) (*big.Int, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return big.NewInt(fee), nil
	})

	tiers := make([]uint32, 24)
	for i := range tiers {
		tiers[i] = uint32(i + 1)
	}
	e := newEngine(fake, Config{Venues: []model.Venue{v3Venue(tiers...)}, MaxHops: 1, MaxInFlight: 3})
	results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(1))
	require.NoError(t, err)
	assert.Len(t, results, 24)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestTimeoutRetriedOnce(t *testing.T) {
	fake := chaintest.NewFake()
	var calls int32
	handleQuoter(t, fake, func(ctx context.Context, fee int64, in *big.Int) (*big.Int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return big.NewInt(42), nil
	})

	e := newEngine(fake, Config{
		Venues:         []model.Venue{v3Venue(500)},
		MaxHops:        1,
		AttemptTimeout: 20 * time.Millisecond,
		RetryBackoff:   time.Millisecond,
	})
	results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTransportRetriedOnlyOnce(t *testing.T) {
	fake := chaintest.NewFake()
	var calls int32
	handleQuoter(t, fake, func(context.Context, int64, *big.Int) (*big.Int, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("read: connection reset by peer")
	})
	e := newEngine(fake, Config{Venues: []model.Venue{v3Venue(500)}, MaxHops: 1, RetryBackoff: time.Millisecond})

	results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.FailureTransport, results[0].Failure)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	handleQuoter(t, fake, func(context.Context, int64, *big.Int) (*big.Int, error) {
		atomic.AddInt32(&calls, 1)
		return nil, chaintest.Revert("SPL")
	})
	results, err = e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, model.FailureNoLiquidity, results[0].Failure)
	assert.Equal(t, "SPL", results[0].Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "reverts are not retried")
}

func TestCancellationReturnsPartial(t *testing.T) {
	fake := chaintest.NewFake()
	release := make(chan struct{})
	handleQuoter(t, fake, func(ctx context.Context, fee int64, in *big.Int) (*big.Int, error) {
		if fee == 1 {
			return big.NewInt(7), nil
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return big.NewInt(1), nil
	})
	defer close(release)

	e := newEngine(fake, Config{Venues: []model.Venue{v3Venue(1, 2, 3)}, MaxHops: 1, MaxInFlight: 3, AttemptTimeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := e.GatherQuotes(ctx, tokA, tokB, big.NewInt(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotEmpty(t, results)
	assert.True(t, results[0].OK())
}

func TestDeterministicOrder(t *testing.T) {
	fake := chaintest.NewFake()
	handleRouter(t, fake, rateTable{{tokA, tokB}: {1, 1}, {tokA, tokM}: {1, 1}, {tokM, tokB}: {1, 1}})
	handleQuoter(t, fake, func(_ context.Context, fee int64, in *big.Int) (*big.Int, error) {
		time.Sleep(time.Duration(10-fee%10) * time.Millisecond)
		return new(big.Int).Add(in, big.NewInt(fee)), nil
	})
	cfg := Config{
		Venues:        []model.Venue{v2Venue(), v3Venue(100, 500, 2500)},
		Intermediates: []common.Address{tokM},
		MaxHops:       2,
		MaxInFlight:   8,
	}
	e := newEngine(fake, cfg)

	var runs [][]string
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(1000))
		require.NoError(t, err)
		ids := make([]string, len(results))
		for j, r := range results {
			ids[j] = r.ID() + "=" + r.AmountOut.String()
		}
		mu.Lock()
		runs = append(runs, ids)
		mu.Unlock()
	}
	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[1], runs[2])
	assert.Equal(t, "v2/constant-product/"+model.PathString([]model.Hop{{Token: tokA}, {Token: tokB}})+"=1000", runs[0][0])
}

func TestRequote(t *testing.T) {
	fake := chaintest.NewFake()
	handleRouter(t, fake, rateTable{{tokA, tokB}: {3, 2}})
	e := newEngine(fake, Config{Venues: []model.Venue{v2Venue()}, MaxHops: 1})

	results, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(100))
	require.NoError(t, err)
	require.True(t, results[0].OK())

	again, err := e.Requote(context.Background(), results[0], big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(15), again.AmountOut.Int64())
	assert.Equal(t, results[0].ID(), again.ID())
}

func TestRejectsBadInput(t *testing.T) {
	e := newEngine(chaintest.NewFake(), Config{Venues: []model.Venue{v2Venue()}})
	_, err := e.GatherQuotes(context.Background(), tokA, tokB, big.NewInt(0))
	require.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = e.GatherQuotes(context.Background(), tokA, tokA, big.NewInt(1))
	require.ErrorIs(t, err, model.ErrInvalidPath)
}
