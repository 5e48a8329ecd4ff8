package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapScope/internal/chain"
	"swapScope/internal/dex"
	"swapScope/internal/metrics"
	"swapScope/internal/model"
)

// PoolStore persists discovered pools across restarts.
type PoolStore interface {
	LoadPools(ctx context.Context, maxAge time.Duration) ([]StoredPool, error)
	UpsertPools(ctx context.Context, pools []model.PoolCandidate) error
}

// StoredPool is a persisted discovery result.
type StoredPool struct {
	VenueName string
	Pool      common.Address
	FeeTier   uint32
	TokenA    common.Address
	TokenB    common.Address
	UpdatedAt time.Time
}

// DiscoveredConfig configures a Discovered catalog.
type DiscoveredConfig struct {
	Venues      []model.Venue
	TTL         time.Duration
	Concurrency int
	// PruneEmpty drops pools that report zero liquidity.
	PruneEmpty bool
	Store      PoolStore
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type cacheEntry struct {
	pools     []model.PoolCandidate
	fetchedAt time.Time
}

// Discovered asks venue factories which pools exist and caches the answer per
// venue and pair. Venues without a factory fall back to static expansion.
type Discovered struct {
	caller chain.Caller
	cfg    DiscoveredConfig
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewDiscovered(caller chain.Caller, cfg DiscoveredConfig) *Discovered {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovered{
		caller: caller,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// Warm loads still-fresh pools from the store into the cache.
func (d *Discovered) Warm(ctx context.Context) (int, error) {
	if d.cfg.Store == nil {
		return 0, nil
	}
	stored, err := d.cfg.Store.LoadPools(ctx, d.cfg.TTL)
	if err != nil {
		return 0, fmt.Errorf("load pools: %w", err)
	}
	venues := make(map[string]model.Venue, len(d.cfg.Venues))
	for _, venue := range d.cfg.Venues {
		venues[venue.Name] = venue
	}

	loaded := 0
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sp := range stored {
		venue, ok := venues[sp.VenueName]
		if !ok {
			continue
		}
		key := cacheKey(venue, sp.TokenA, sp.TokenB)
		entry := d.cache[key]
		entry.pools = append(entry.pools, model.PoolCandidate{
			Venue: venue, Pool: sp.Pool, FeeTier: sp.FeeTier, TokenA: sp.TokenA, TokenB: sp.TokenB,
		})
		if entry.fetchedAt.IsZero() || sp.UpdatedAt.Before(entry.fetchedAt) {
			entry.fetchedAt = sp.UpdatedAt
		}
		d.cache[key] = entry
		loaded++
	}
	return loaded, nil
}

func (d *Discovered) Candidates(ctx context.Context, tokenA, tokenB common.Address) ([]model.PoolCandidate, error) {
	results := make([][]model.PoolCandidate, len(d.cfg.Venues))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, venue := range d.cfg.Venues {
		if venue.Factory == (common.Address{}) {
			results[i] = expand(venue, tokenA, tokenB)
			continue
		}
		if pools, ok := d.cached(venue, tokenA, tokenB); ok {
			d.cfg.Metrics.CatalogLookup("hit")
			results[i] = orient(pools, tokenA, tokenB)
			continue
		}
		d.cfg.Metrics.CatalogLookup("miss")

		i, venue := i, venue
		g.Go(func() error {
			pools, complete := d.discover(ctx, venue, tokenA, tokenB)
			results[i] = pools
			if complete {
				d.remember(ctx, venue, tokenA, tokenB, pools)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]model.PoolCandidate, 0)
	for _, pools := range results {
		out = append(out, pools...)
	}
	return out, nil
}

// discover looks up every fee tier of a venue. complete is false when any
// lookup failed in transport, so the partial answer is not cached.
func (d *Discovered) discover(ctx context.Context, venue model.Venue, tokenA, tokenB common.Address) ([]model.PoolCandidate, bool) {
	complete := true
	var pools []model.PoolCandidate
	for _, fee := range venue.Tiers() {
		pool, err := dex.LookupPool(ctx, d.caller, venue, tokenA, tokenB, fee)
		if err != nil {
			qe := dex.Classify(err)
			if qe.Kind == model.FailureTransport {
				complete = false
			}
			d.cfg.Metrics.CatalogLookup("error")
			d.logger.Warn("pool lookup failed",
				zap.String("venue", venue.Name),
				zap.Uint32("fee", fee),
				zap.String("token_a", tokenA.Hex()),
				zap.String("token_b", tokenB.Hex()),
				zap.Error(err),
			)
			continue
		}
		if pool == (common.Address{}) {
			continue
		}
		if d.cfg.PruneEmpty {
			liq, err := dex.PoolLiquidity(ctx, d.caller, venue.Protocol, pool)
			if err == nil && liq.Sign() == 0 {
				d.logger.Debug("pool pruned: zero liquidity", zap.String("venue", venue.Name), zap.String("pool", pool.Hex()))
				continue
			}
		}
		pools = append(pools, model.PoolCandidate{Venue: venue, Pool: pool, FeeTier: fee, TokenA: tokenA, TokenB: tokenB})
	}
	return pools, complete
}

func (d *Discovered) cached(venue model.Venue, tokenA, tokenB common.Address) ([]model.PoolCandidate, bool) {
	d.mu.RLock()
	entry, ok := d.cache[cacheKey(venue, tokenA, tokenB)]
	d.mu.RUnlock()
	if !ok || d.now().Sub(entry.fetchedAt) > d.cfg.TTL {
		return nil, false
	}
	return entry.pools, true
}

func (d *Discovered) remember(ctx context.Context, venue model.Venue, tokenA, tokenB common.Address, pools []model.PoolCandidate) {
	d.mu.Lock()
	d.cache[cacheKey(venue, tokenA, tokenB)] = cacheEntry{pools: pools, fetchedAt: d.now()}
	d.mu.Unlock()

	if d.cfg.Store == nil || len(pools) == 0 {
		return
	}
	if err := d.cfg.Store.UpsertPools(ctx, pools); err != nil {
		d.logger.Warn("persist pools failed", zap.String("venue", venue.Name), zap.Error(err))
	}
}

func cacheKey(venue model.Venue, tokenA, tokenB common.Address) string {
	a, b := model.SortPair(tokenA, tokenB)
	return venue.Name + "|" + model.LowerHex(a) + "|" + model.LowerHex(b)
}

// orient rewrites cached candidates so TokenA/TokenB follow the caller's order.
func orient(pools []model.PoolCandidate, tokenA, tokenB common.Address) []model.PoolCandidate {
	out := make([]model.PoolCandidate, len(pools))
	for i, pool := range pools {
		pool.TokenA, pool.TokenB = tokenA, tokenB
		out[i] = pool
	}
	return out
}
