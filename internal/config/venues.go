package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/model"
)

// BNB Smart Chain mainnet addresses used when the config file names no venues.
const (
	wbnb = "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
	usdt = "0x55d398326f99059fF775485246999027B3197955"
	busd = "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"
	usdc = "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"
)

// DefaultVenues returns PancakeSwap V2 and V3 on BNB Smart Chain.
func DefaultVenues() []VenueConfig {
	return []VenueConfig{
		{
			Name:     "pancake-v2",
			Protocol: string(model.ProtocolConstantProduct),
			Router:   "0x10ED43C718714eb63d5aA57B78B54704E256024E",
			Factory:  "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
		},
		{
			Name:     "pancake-v3",
			Protocol: string(model.ProtocolConcentratedLiquidity),
			Quoter:   "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997",
			Factory:  "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
			FeeTiers: []uint32{100, 500, 2500, 10000},
		},
	}
}

// BuildVenues validates venue configs and converts them to model venues.
func (c Config) BuildVenues() ([]model.Venue, error) {
	seen := make(map[string]struct{}, len(c.Venues))
	out := make([]model.Venue, 0, len(c.Venues))
	for _, vc := range c.Venues {
		venue, err := vc.build()
		if err != nil {
			return nil, fmt.Errorf("venue %q: %w", vc.Name, err)
		}
		if _, dup := seen[venue.Name]; dup {
			return nil, fmt.Errorf("duplicate venue name %q", venue.Name)
		}
		seen[venue.Name] = struct{}{}
		out = append(out, venue)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one venue is required")
	}
	return out, nil
}

func (vc VenueConfig) build() (model.Venue, error) {
	name := strings.TrimSpace(vc.Name)
	if name == "" {
		return model.Venue{}, fmt.Errorf("name is required")
	}
	protocol, err := model.ParseProtocol(vc.Protocol)
	if err != nil {
		return model.Venue{}, err
	}
	venue := model.Venue{Name: name, Protocol: protocol, FeeTiers: vc.FeeTiers}

	if venue.Factory, err = optionalAddress(vc.Factory); err != nil {
		return model.Venue{}, fmt.Errorf("factory: %w", err)
	}

	switch protocol {
	case model.ProtocolConstantProduct:
		if venue.Router, err = ParseAddress(vc.Router); err != nil {
			return model.Venue{}, fmt.Errorf("router: %w", err)
		}
	case model.ProtocolConcentratedLiquidity:
		if venue.Quoter, err = ParseAddress(vc.Quoter); err != nil {
			return model.Venue{}, fmt.Errorf("quoter: %w", err)
		}
		if len(vc.FeeTiers) == 0 {
			return model.Venue{}, fmt.Errorf("fee-tiers are required")
		}
		for _, fee := range vc.FeeTiers {
			if fee == 0 || fee > 1<<24-1 {
				return model.Venue{}, fmt.Errorf("fee tier %d out of range", fee)
			}
		}
		switch model.QuoterShape(strings.ToLower(vc.QuoterShape)) {
		case model.ShapeUnknown, model.ShapeTuple, model.ShapePositional:
			venue.QuoterShape = model.QuoterShape(strings.ToLower(vc.QuoterShape))
		default:
			return model.Venue{}, fmt.Errorf("unknown quoter-shape %q", vc.QuoterShape)
		}
		switch mode := model.MultiHopMode(strings.ToLower(vc.MultiHop)); mode {
		case "", model.MultiHopAuto:
			venue.MultiHop = model.MultiHopAuto
		case model.MultiHopPath, model.MultiHopChained:
			venue.MultiHop = mode
		default:
			return model.Venue{}, fmt.Errorf("unknown multihop mode %q", vc.MultiHop)
		}
	}
	return venue, nil
}

// TrustedTokens converts token configs into registry seeds.
func (c Config) TrustedTokens() ([]model.Token, error) {
	out := make([]model.Token, 0, len(c.Tokens))
	for _, tc := range c.Tokens {
		addr, err := ParseAddress(tc.Address)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		out = append(out, model.Token{Address: addr, Decimals: tc.Decimals, Symbol: tc.Symbol})
	}
	return out, nil
}

// IntermediateAddresses parses the configured intermediate tokens.
func (c Config) IntermediateAddresses() ([]common.Address, error) {
	return ParseAddresses(c.Intermediates)
}

// WrappedNativeAddress parses the wrapped native token; empty means none.
func (c Config) WrappedNativeAddress() (common.Address, error) {
	return optionalAddress(c.WrappedNative)
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseAddress parses one hex address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

func optionalAddress(input string) (common.Address, error) {
	if strings.TrimSpace(input) == "" {
		return common.Address{}, nil
	}
	return ParseAddress(input)
}

// ParseTokenAddress is ParseAddress that also accepts "native" for the
// chain's native coin.
func ParseTokenAddress(input string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(input), "native") {
		return model.NativeAddress, nil
	}
	return ParseAddress(input)
}
