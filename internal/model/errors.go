package model

import (
	"errors"
	"fmt"
)

var (
	ErrTokenNotFound            = errors.New("token not found")
	ErrTokenMetadataUnavailable = errors.New("token metadata unavailable")
	ErrNoLiquidity              = errors.New("no liquidity")
	ErrAdapterMismatch          = errors.New("adapter mismatch")
	ErrTransport                = errors.New("transport error")
	ErrAllRoutesExhausted       = errors.New("all routes exhausted")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidPath              = errors.New("invalid path")
)

// FailureKind classifies why a single quote attempt failed.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureNoLiquidity     FailureKind = "no_liquidity"
	FailureAdapterMismatch FailureKind = "adapter_mismatch"
	FailureTransport       FailureKind = "transport"
)

// Sentinel maps a failure kind onto its package error.
func (k FailureKind) Sentinel() error {
	switch k {
	case FailureNoLiquidity:
		return ErrNoLiquidity
	case FailureAdapterMismatch:
		return ErrAdapterMismatch
	case FailureTransport:
		return ErrTransport
	default:
		return nil
	}
}

// QuoteError is returned by adapters. Reason holds a decoded revert string when one exists.
type QuoteError struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func NewQuoteError(kind FailureKind, reason string, err error) *QuoteError {
	return &QuoteError{Kind: kind, Reason: reason, Err: err}
}

func (e *QuoteError) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel of the failure kind.
func (e *QuoteError) Is(target error) bool {
	sentinel := e.Kind.Sentinel()
	return sentinel != nil && target == sentinel
}

// KindOf extracts the failure kind from err, defaulting to transport.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	switch {
	case errors.Is(err, ErrNoLiquidity):
		return FailureNoLiquidity
	case errors.Is(err, ErrAdapterMismatch):
		return FailureAdapterMismatch
	default:
		return FailureTransport
	}
}
