// Package pathcodec packs concentrated-liquidity swap paths into the byte form
// quoters accept: a 20-byte token address followed by a 3-byte big-endian fee
// tier, repeated, ending with the final token address.
package pathcodec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/model"
)

const (
	addrSize = common.AddressLength
	feeSize  = 3
	hopSize  = addrSize + feeSize
	maxFee   = 1<<24 - 1
)

// Encode packs hops into the path byte string. The final hop must not carry a fee.
func Encode(hops []model.Hop) ([]byte, error) {
	if len(hops) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 tokens, got %d", model.ErrInvalidPath, len(hops))
	}
	out := make([]byte, 0, EncodedLen(len(hops)))
	for i, hop := range hops {
		out = append(out, hop.Token.Bytes()...)
		if i == len(hops)-1 {
			if hop.Fee != 0 {
				return nil, fmt.Errorf("%w: final hop carries fee %d", model.ErrInvalidPath, hop.Fee)
			}
			break
		}
		if hop.Fee > maxFee {
			return nil, fmt.Errorf("%w: fee %d exceeds 24 bits", model.ErrInvalidPath, hop.Fee)
		}
		out = append(out, byte(hop.Fee>>16), byte(hop.Fee>>8), byte(hop.Fee))
	}
	return out, nil
}

// Decode is the exact inverse of Encode.
func Decode(data []byte) ([]model.Hop, error) {
	if len(data) < addrSize+hopSize || (len(data)-addrSize)%hopSize != 0 {
		return nil, fmt.Errorf("%w: bad encoded length %d", model.ErrInvalidPath, len(data))
	}
	n := (len(data)-addrSize)/hopSize + 1
	hops := make([]model.Hop, 0, n)
	offset := 0
	for i := 0; i < n; i++ {
		hop := model.Hop{Token: common.BytesToAddress(data[offset : offset+addrSize])}
		offset += addrSize
		if i < n-1 {
			hop.Fee = uint32(data[offset])<<16 | uint32(data[offset+1])<<8 | uint32(data[offset+2])
			offset += feeSize
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// EncodedLen is the byte length of an encoded path with n tokens.
func EncodedLen(n int) int {
	if n < 1 {
		return 0
	}
	return n*addrSize + (n-1)*feeSize
}
