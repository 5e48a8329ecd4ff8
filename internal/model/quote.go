package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteStatus marks a quote as usable or failed.
type QuoteStatus string

const (
	QuoteOK     QuoteStatus = "ok"
	QuoteFailed QuoteStatus = "failed"
)

// QuoteResult is the outcome of one quote attempt along one path on one venue.
type QuoteResult struct {
	Venue       Venue            `json:"venue"`
	Path        []Hop            `json:"path"`
	Pools       []common.Address `json:"pools,omitempty"`
	AmountIn    *big.Int         `json:"amount_in"`
	AmountOut   *big.Int         `json:"amount_out,omitempty"`
	GasEstimate *big.Int         `json:"gas_estimate,omitempty"`
	Status      QuoteStatus      `json:"status"`
	Failure     FailureKind      `json:"failure,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	PriceImpact *big.Rat         `json:"-"`
	Latency     time.Duration    `json:"latency"`
}

// ID is a deterministic path identifier: venue, protocol and hop sequence.
func (q QuoteResult) ID() string {
	return fmt.Sprintf("%s/%s/%s", q.Venue.Name, q.Venue.Protocol, PathString(q.Path))
}

// HopCount is the number of swaps in the path.
func (q QuoteResult) HopCount() int {
	if len(q.Path) < 2 {
		return 0
	}
	return len(q.Path) - 1
}

// OK reports whether the quote succeeded with a positive output.
func (q QuoteResult) OK() bool {
	return q.Status == QuoteOK && q.AmountOut != nil && q.AmountOut.Sign() > 0
}

// Err returns the failure as an error, or nil for a successful quote.
func (q QuoteResult) Err() error {
	if q.Status != QuoteFailed {
		return nil
	}
	return NewQuoteError(q.Failure, q.Reason, nil)
}

// Allocation is the part of a route's input sent along one path.
type Allocation struct {
	Quote     QuoteResult `json:"quote"`
	AmountIn  *big.Int    `json:"amount_in"`
	AmountOut *big.Int    `json:"amount_out"`
}

// Route is the selected execution plan for a quote request.
type Route struct {
	TokenIn     Token        `json:"token_in"`
	TokenOut    Token        `json:"token_out"`
	AmountIn    *big.Int     `json:"amount_in"`
	AmountOut   *big.Int     `json:"amount_out"`
	Allocations []Allocation `json:"allocations"`
	Rate        *big.Rat     `json:"-"`
	PriceImpact *big.Rat     `json:"-"`
	Split       bool         `json:"split"`
	Attempts    int          `json:"attempts"`
	Succeeded   int          `json:"succeeded"`
}
