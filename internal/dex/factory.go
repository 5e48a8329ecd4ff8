package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/chain"
	"swapScope/internal/model"
)

// LookupPool asks a venue factory for the pool serving a pair and fee tier.
// The zero address means the factory knows no such pool.
func LookupPool(ctx context.Context, caller chain.Caller, venue model.Venue, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	var values []interface{}
	switch venue.Protocol {
	case model.ProtocolConstantProduct:
		parsed, err := FactoryV2ABI()
		if err != nil {
			return common.Address{}, err
		}
		values, err = callMethod(ctx, caller, venue.Factory, parsed, "getPair", tokenA, tokenB)
		if err != nil {
			return common.Address{}, err
		}
	case model.ProtocolConcentratedLiquidity:
		parsed, err := FactoryV3ABI()
		if err != nil {
			return common.Address{}, err
		}
		values, err = callMethod(ctx, caller, venue.Factory, parsed, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
		if err != nil {
			return common.Address{}, err
		}
	default:
		return common.Address{}, fmt.Errorf("unsupported protocol %q", venue.Protocol)
	}
	return asAddress(values[0])
}

// PoolLiquidity reports a coarse liquidity figure: in-range liquidity for
// concentrated pools, the smaller reserve for constant-product pairs.
func PoolLiquidity(ctx context.Context, caller chain.Caller, protocol model.Protocol, pool common.Address) (*big.Int, error) {
	switch protocol {
	case model.ProtocolConstantProduct:
		parsed, err := PairV2ABI()
		if err != nil {
			return nil, err
		}
		values, err := callMethod(ctx, caller, pool, parsed, "getReserves")
		if err != nil {
			return nil, err
		}
		r0, err := asBigInt(values[0])
		if err != nil {
			return nil, err
		}
		r1, err := asBigInt(values[1])
		if err != nil {
			return nil, err
		}
		if r0.Cmp(r1) < 0 {
			return r0, nil
		}
		return r1, nil
	case model.ProtocolConcentratedLiquidity:
		parsed, err := PoolV3ABI()
		if err != nil {
			return nil, err
		}
		values, err := callMethod(ctx, caller, pool, parsed, "liquidity")
		if err != nil {
			return nil, err
		}
		return asBigInt(values[0])
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}
