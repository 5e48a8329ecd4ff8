package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapScope/internal/chain"
	"swapScope/internal/model"
)

// Quote is the raw outcome of one adapter call.
type Quote struct {
	AmountOut   *big.Int
	GasEstimate *big.Int
}

// Adapter turns a pool or path into an output amount for one protocol family.
// Errors are always *model.QuoteError.
type Adapter interface {
	QuoteSingleHop(ctx context.Context, pool model.PoolCandidate, tokenIn, tokenOut common.Address, amountIn *big.Int) (Quote, error)
	QuoteMultiHop(ctx context.Context, venue model.Venue, path []model.Hop, amountIn *big.Int) (Quote, error)
}

// NewAdapters builds one adapter per supported protocol over a shared caller.
func NewAdapters(caller chain.Caller, logger *zap.Logger) map[model.Protocol]Adapter {
	return map[model.Protocol]Adapter{
		model.ProtocolConstantProduct:       NewConstantProduct(caller),
		model.ProtocolConcentratedLiquidity: NewConcentratedLiquidity(caller, logger),
	}
}

func noLiquidity(reason string) *model.QuoteError {
	return model.NewQuoteError(model.FailureNoLiquidity, reason, nil)
}
