package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies the pricing family of a venue.
type Protocol string

const (
	ProtocolConstantProduct       Protocol = "constant-product"
	ProtocolConcentratedLiquidity Protocol = "concentrated-liquidity"
)

// ParseProtocol accepts the canonical names plus the common v2/v3 aliases.
func ParseProtocol(input string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case string(ProtocolConstantProduct), "v2", "cpmm":
		return ProtocolConstantProduct, nil
	case string(ProtocolConcentratedLiquidity), "v3", "clmm":
		return ProtocolConcentratedLiquidity, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", input)
	}
}

// QuoterShape selects the quoter call encoding of a concentrated-liquidity venue.
type QuoterShape string

const (
	ShapeUnknown    QuoterShape = ""
	ShapeTuple      QuoterShape = "tuple"
	ShapePositional QuoterShape = "positional"
)

// MultiHopMode selects how multi-hop concentrated-liquidity paths are quoted.
type MultiHopMode string

const (
	MultiHopAuto    MultiHopMode = "auto"
	MultiHopPath    MultiHopMode = "path"
	MultiHopChained MultiHopMode = "chained"
)

// Venue is one DEX deployment: a protocol plus its contract addresses.
type Venue struct {
	Name        string         `json:"name"`
	Protocol    Protocol       `json:"protocol"`
	Router      common.Address `json:"router,omitempty"`
	Quoter      common.Address `json:"quoter,omitempty"`
	Factory     common.Address `json:"factory,omitempty"`
	FeeTiers    []uint32       `json:"fee_tiers,omitempty"`
	QuoterShape QuoterShape    `json:"quoter_shape,omitempty"`
	MultiHop    MultiHopMode   `json:"multihop,omitempty"`
}

// Tiers returns the fee tiers to probe; constant-product venues have one implicit tier.
func (v Venue) Tiers() []uint32 {
	if v.Protocol == ProtocolConstantProduct || len(v.FeeTiers) == 0 {
		return []uint32{0}
	}
	return v.FeeTiers
}

// PoolCandidate is a pool that may serve a token pair on a venue.
// Pool is the zero address when the catalog has not resolved it.
type PoolCandidate struct {
	Venue   Venue          `json:"venue"`
	Pool    common.Address `json:"pool"`
	FeeTier uint32         `json:"fee_tier"`
	TokenA  common.Address `json:"token_a"`
	TokenB  common.Address `json:"token_b"`
}

// Key is unique per venue, pair and fee tier.
func (c PoolCandidate) Key() string {
	a, b := SortPair(c.TokenA, c.TokenB)
	return fmt.Sprintf("%s|%s|%s|%d", c.Venue.Name, LowerHex(a), LowerHex(b), c.FeeTier)
}

// SortPair orders two addresses ascending.
func SortPair(a, b common.Address) (common.Address, common.Address) {
	if strings.Compare(LowerHex(a), LowerHex(b)) > 0 {
		return b, a
	}
	return a, b
}

// Hop is one element of a swap path. Fee is the tier of the pool leading to
// the next hop and is zero on the final hop.
type Hop struct {
	Token common.Address `json:"token"`
	Fee   uint32         `json:"fee"`
}

// PathTokens returns the token sequence of a path.
func PathTokens(path []Hop) []common.Address {
	out := make([]common.Address, 0, len(path))
	for _, hop := range path {
		out = append(out, hop.Token)
	}
	return out
}

// PathString renders a path as token>fee>token, omitting zero fees.
func PathString(path []Hop) string {
	var b strings.Builder
	for i, hop := range path {
		if i > 0 {
			b.WriteByte('>')
		}
		b.WriteString(LowerHex(hop.Token))
		if i < len(path)-1 && hop.Fee != 0 {
			fmt.Fprintf(&b, ">%d", hop.Fee)
		}
	}
	return b.String()
}
