// Package chaintest provides an in-memory chain.Caller for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// HandlerFunc answers one contract method. Tuple arguments are flattened into args.
type HandlerFunc func(ctx context.Context, args []interface{}) ([]interface{}, error)

type selector [4]byte

type handler struct {
	method abi.Method
	fn     HandlerFunc
}

// Fake dispatches eth_call by (address, selector). Addresses with code but no
// matching handler revert with empty data, like a contract without a fallback.
type Fake struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	handlers map[common.Address]map[selector]handler
	calls    map[common.Address]map[selector]int
	codeHits int
}

func NewFake() *Fake {
	return &Fake{
		code:     make(map[common.Address][]byte),
		handlers: make(map[common.Address]map[selector]handler),
		calls:    make(map[common.Address]map[selector]int),
	}
}

// SetCode sets the bytecode returned by CodeAt.
func (f *Fake) SetCode(addr common.Address, code []byte) {
	f.mu.Lock()
	f.code[addr] = code
	f.mu.Unlock()
}

// Handle registers fn for method on addr and marks addr as deployed.
func (f *Fake) Handle(addr common.Address, method abi.Method, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[addr] == nil {
		f.handlers[addr] = make(map[selector]handler)
	}
	var sel selector
	copy(sel[:], method.ID)
	f.handlers[addr][sel] = handler{method: method, fn: fn}
	if _, ok := f.code[addr]; !ok {
		f.code[addr] = []byte{0x60, 0x80, 0x60, 0x40}
	}
}

// Calls returns how many times method was called on addr.
func (f *Fake) Calls(addr common.Address, method abi.Method) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sel selector
	copy(sel[:], method.ID)
	return f.calls[addr][sel]
}

// CodeCalls returns how many times CodeAt was called.
func (f *Fake) CodeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codeHits
}

func (f *Fake) CodeAt(ctx context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeHits++
	return f.code[account], nil
}

func (f *Fake) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("invalid call")
	}
	addr := *msg.To
	var sel selector
	copy(sel[:], msg.Data[:4])

	f.mu.Lock()
	if f.calls[addr] == nil {
		f.calls[addr] = make(map[selector]int)
	}
	f.calls[addr][sel]++
	h, ok := f.handlers[addr][sel]
	_, deployed := f.code[addr]
	f.mu.Unlock()

	if !ok {
		if !deployed {
			return nil, nil
		}
		return nil, Revert("")
	}

	args, err := h.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, Revert("")
	}
	out, err := h.fn(ctx, flatten(args))
	if err != nil {
		return nil, err
	}
	return h.method.Outputs.Pack(out...)
}

func flatten(values []interface{}) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, value := range values {
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Struct {
			for i := 0; i < rv.NumField(); i++ {
				out = append(out, rv.Field(i).Interface())
			}
			continue
		}
		out = append(out, value)
	}
	return out
}

// RevertError mimics the JSON-RPC error returned for a reverted eth_call.
type RevertError struct {
	Reason string
}

// Revert builds a RevertError; an empty reason yields empty revert data.
func Revert(reason string) *RevertError {
	return &RevertError{Reason: reason}
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} {
	if e.Reason == "" {
		return "0x"
	}
	return hexutil.Encode(RevertData(e.Reason))
}

// RevertData ABI-encodes Error(string) revert data.
func RevertData(reason string) []byte {
	strType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	if err != nil {
		panic(fmt.Sprintf("pack revert reason: %v", err))
	}
	return append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
}

// Bytecode builds fake runtime code that exposes the given selectors as PUSH4 operands.
func Bytecode(methods ...abi.Method) []byte {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	for _, m := range methods {
		code = append(code, 0x63)
		code = append(code, m.ID[:4]...)
		code = append(code, 0x14)
	}
	return code
}
