package storage

import (
	"context"
	"errors"
	"math/big"
	"time"

	"swapScope/internal/model"
	"swapScope/internal/price"
)

// Recorder is a sink for quote reports.
type Recorder interface {
	RecordRoute(ctx context.Context, report RouteReport) error
}

// RouteReport is the persisted view of one quote request: the chosen route
// and every attempt that went into it.
type RouteReport struct {
	Timestamp      time.Time          `json:"timestamp"`
	TokenIn        string             `json:"token_in"`
	TokenOut       string             `json:"token_out"`
	AmountIn       string             `json:"amount_in"`
	AmountOut      string             `json:"amount_out"`
	Rate           string             `json:"rate"`
	PriceImpactBps *int64             `json:"price_impact_bps,omitempty"`
	Split          bool               `json:"split"`
	Allocations    []AllocationReport `json:"allocations"`
	Attempts       []AttemptReport    `json:"attempts"`
}

type AllocationReport struct {
	PathID    string `json:"path_id"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

type AttemptReport struct {
	PathID    string `json:"path_id"`
	Venue     string `json:"venue"`
	Protocol  string `json:"protocol"`
	Hops      int    `json:"hops"`
	Status    string `json:"status"`
	Failure   string `json:"failure,omitempty"`
	Reason    string `json:"reason,omitempty"`
	AmountOut string `json:"amount_out,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewRouteReport flattens a route and its attempts into string fields.
func NewRouteReport(at time.Time, route model.Route, quotes []model.QuoteResult) RouteReport {
	report := RouteReport{
		Timestamp: at.UTC(),
		TokenIn:   model.LowerHex(route.TokenIn.Address),
		TokenOut:  model.LowerHex(route.TokenOut.Address),
		AmountIn:  bigString(route.AmountIn),
		AmountOut: bigString(route.AmountOut),
		Rate:      price.FormatRate(route.Rate),
		Split:     route.Split,
	}
	if route.PriceImpact != nil {
		bps := price.ImpactBps(route.PriceImpact)
		report.PriceImpactBps = &bps
	}
	for _, alloc := range route.Allocations {
		report.Allocations = append(report.Allocations, AllocationReport{
			PathID:    alloc.Quote.ID(),
			AmountIn:  bigString(alloc.AmountIn),
			AmountOut: bigString(alloc.AmountOut),
		})
	}
	for _, q := range quotes {
		attempt := AttemptReport{
			PathID:    q.ID(),
			Venue:     q.Venue.Name,
			Protocol:  string(q.Venue.Protocol),
			Hops:      q.HopCount(),
			Status:    string(q.Status),
			Failure:   string(q.Failure),
			Reason:    q.Reason,
			LatencyMS: q.Latency.Milliseconds(),
		}
		if q.OK() {
			attempt.AmountOut = q.AmountOut.String()
		}
		report.Attempts = append(report.Attempts, attempt)
	}
	return report
}

// Fanout records to every sink and joins their errors.
type Fanout []Recorder

func (f Fanout) RecordRoute(ctx context.Context, report RouteReport) error {
	var errs []error
	for _, r := range f {
		if err := r.RecordRoute(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
