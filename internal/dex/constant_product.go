package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/chain"
	"swapScope/internal/model"
)

// ConstantProduct quotes through a V2-style router's getAmountsOut.
type ConstantProduct struct {
	caller chain.Caller
}

func NewConstantProduct(caller chain.Caller) *ConstantProduct {
	return &ConstantProduct{caller: caller}
}

func (a *ConstantProduct) QuoteSingleHop(ctx context.Context, pool model.PoolCandidate, tokenIn, tokenOut common.Address, amountIn *big.Int) (Quote, error) {
	return a.QuoteMultiHop(ctx, pool.Venue, []model.Hop{{Token: tokenIn}, {Token: tokenOut}}, amountIn)
}

// QuoteMultiHop sends the whole token list to the router; the output is the last amount.
func (a *ConstantProduct) QuoteMultiHop(ctx context.Context, venue model.Venue, path []model.Hop, amountIn *big.Int) (Quote, error) {
	if len(path) < 2 {
		return Quote{}, mismatch("path", fmt.Errorf("%w: %d tokens", model.ErrInvalidPath, len(path)))
	}
	parsed, err := RouterV2ABI()
	if err != nil {
		return Quote{}, mismatch("router abi", err)
	}
	tokens := model.PathTokens(path)

	values, err := callMethod(ctx, a.caller, venue.Router, parsed, "getAmountsOut", amountIn, tokens)
	if err != nil {
		return Quote{}, err
	}
	amounts, err := asBigIntSlice(values[0])
	if err != nil {
		return Quote{}, mismatch("getAmountsOut", err)
	}
	if len(amounts) != len(tokens) {
		return Quote{}, mismatch("getAmountsOut", fmt.Errorf("got %d amounts for %d tokens", len(amounts), len(tokens)))
	}
	out := amounts[len(amounts)-1]
	if out.Sign() <= 0 {
		return Quote{}, noLiquidity("zero output")
	}
	return Quote{AmountOut: new(big.Int).Set(out)}, nil
}
