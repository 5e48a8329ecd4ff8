package model

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the sentinel token id for the chain's native asset.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// NativeDecimals is fixed for the native asset; it is never read from chain.
const NativeDecimals uint8 = 18

// Token captures the metadata a quote needs for a token.
type Token struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol,omitempty"`
	Native   bool           `json:"native,omitempty"`
}

// IsNative reports whether addr is the native-asset sentinel.
func IsNative(addr common.Address) bool {
	return addr == NativeAddress
}

// Label returns the symbol when known, else the address.
func (t Token) Label() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// Amount is a raw integer token amount together with its decimals.
type Amount struct {
	Raw      *big.Int `json:"raw"`
	Decimals uint8    `json:"decimals"`
}

// Units returns Raw / 10^Decimals as an exact rational.
func (a Amount) Units() *big.Rat {
	if a.Raw == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(a.Raw, Pow10(a.Decimals))
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// LowerHex renders an address as lower-case hex for stable ids.
func LowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
