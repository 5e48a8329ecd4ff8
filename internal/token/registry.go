// Package token resolves token decimals and symbols, caching them for the
// life of the process.
package token

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"swapScope/internal/chain"
	"swapScope/internal/dex"
	"swapScope/internal/metrics"
	"swapScope/internal/model"
)

const defaultFetchTimeout = 10 * time.Second

// Config configures a Registry.
type Config struct {
	// Trusted tokens are served from config and never fetched.
	Trusted      []model.Token
	NativeSymbol string
	// FetchTimeout bounds one shared metadata fetch.
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Registry resolves token metadata. Concurrent first lookups of the same
// token share a single chain fetch.
type Registry struct {
	caller  chain.Caller
	native  model.Token
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	tokens map[common.Address]model.Token
	group  singleflight.Group
}

func NewRegistry(caller chain.Caller, cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	symbol := cfg.NativeSymbol
	if symbol == "" {
		symbol = "NATIVE"
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	r := &Registry{
		caller:  caller,
		timeout: timeout,
		native:  model.Token{Address: model.NativeAddress, Decimals: model.NativeDecimals, Symbol: symbol, Native: true},
		logger:  logger,
		metrics: cfg.Metrics,
		tokens:  make(map[common.Address]model.Token, len(cfg.Trusted)),
	}
	for _, tok := range cfg.Trusted {
		r.Seed(tok)
	}
	return r
}

// Seed stores token metadata without touching the chain.
func (r *Registry) Seed(tok model.Token) {
	if model.IsNative(tok.Address) {
		return
	}
	r.mu.Lock()
	r.tokens[tok.Address] = tok
	r.mu.Unlock()
}

// Resolve returns cached metadata or fetches it once.
func (r *Registry) Resolve(ctx context.Context, addr common.Address) (model.Token, error) {
	if model.IsNative(addr) {
		return r.native, nil
	}

	r.mu.RLock()
	tok, ok := r.tokens[addr]
	r.mu.RUnlock()
	if ok {
		r.metrics.TokenLookup("hit")
		return tok, nil
	}
	r.metrics.TokenLookup("miss")
	return r.load(ctx, addr)
}

// Refresh drops any cached entry and refetches from chain.
func (r *Registry) Refresh(ctx context.Context, addr common.Address) (model.Token, error) {
	if model.IsNative(addr) {
		return r.native, nil
	}
	r.mu.Lock()
	delete(r.tokens, addr)
	r.mu.Unlock()
	r.group.Forget(addr.Hex())
	return r.load(ctx, addr)
}

// Tokens returns a snapshot of cached tokens sorted by address.
func (r *Registry) Tokens() []model.Token {
	r.mu.RLock()
	out := make([]model.Token, 0, len(r.tokens))
	for _, tok := range r.tokens {
		out = append(out, tok)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return model.LowerHex(out[i].Address) < model.LowerHex(out[j].Address)
	})
	return out
}

// load shares one fetch between concurrent callers. The fetch runs detached
// from any single caller, so a caller that gives up only abandons its own wait.
func (r *Registry) load(ctx context.Context, addr common.Address) (model.Token, error) {
	ch := r.group.DoChan(addr.Hex(), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		tok, err := r.fetch(fetchCtx, addr)
		if err != nil {
			return model.Token{}, err
		}
		r.mu.Lock()
		r.tokens[addr] = tok
		r.mu.Unlock()
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return model.Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Token{}, res.Err
		}
		return res.Val.(model.Token), nil
	}
}

// fetch reports ErrTokenMetadataUnavailable only when the token contract
// answered badly. Transport and context failures pass through unchanged.
func (r *Registry) fetch(ctx context.Context, addr common.Address) (model.Token, error) {
	code, err := r.caller.CodeAt(ctx, addr, nil)
	if err != nil {
		return model.Token{}, fmt.Errorf("%s: code lookup: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return model.Token{}, fmt.Errorf("%w: %s", model.ErrTokenNotFound, addr.Hex())
	}

	tok, err := dex.FetchTokenMeta(ctx, r.caller, addr, r.logger)
	if err != nil {
		r.logger.Warn("token metadata fetch failed", zap.String("token", addr.Hex()), zap.Error(err))
		if dex.Classify(err).Kind == model.FailureTransport {
			return model.Token{}, fmt.Errorf("%s: %w", addr.Hex(), err)
		}
		return model.Token{}, fmt.Errorf("%w: %s: %v", model.ErrTokenMetadataUnavailable, addr.Hex(), err)
	}
	r.logger.Debug("token resolved",
		zap.String("token", addr.Hex()),
		zap.String("symbol", tok.Symbol),
		zap.Uint8("decimals", tok.Decimals),
	)
	return tok, nil
}
