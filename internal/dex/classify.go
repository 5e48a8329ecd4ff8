package dex

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"swapScope/internal/model"
)

const (
	rpcCodeRevert        = 3
	rpcCodeInvalidParams = -32602
)

// Classify maps an eth_call error onto the quote failure taxonomy.
// Reverts are NoLiquidity, malformed calls are AdapterMismatch, and
// everything else, including timeouts, is TransportError.
func Classify(err error) *model.QuoteError {
	if err == nil {
		return nil
	}
	var qe *model.QuoteError
	if errors.As(err, &qe) {
		return qe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.NewQuoteError(model.FailureTransport, "", err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeRevert:
			return model.NewQuoteError(model.FailureNoLiquidity, revertReason(err), err)
		case rpcCodeInvalidParams:
			return model.NewQuoteError(model.FailureAdapterMismatch, "", err)
		}
	}

	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return model.NewQuoteError(model.FailureNoLiquidity, revertReason(err), err)
	}
	return model.NewQuoteError(model.FailureTransport, "", err)
}

// revertReason decodes Error(string) revert data when the node returned it.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if text, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(text); decErr == nil && len(data) > 0 {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted: "); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("execution reverted: "):])
	}
	return ""
}

func mismatch(what string, err error) *model.QuoteError {
	return model.NewQuoteError(model.FailureAdapterMismatch, what, err)
}
