package tracing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
)

// Account represents an Ethereum account state
type Account struct {
	Balance *hexutil.Big                `json:"balance,omitempty"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Nonce   uint64                      `json:"nonce,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// PrestateResult represents the result from prestateTracer
type PrestateResult map[common.Address]*Account

// CallKind is the kind of execution context a frame represents.
type CallKind string

const (
	KindCall         CallKind = "CALL"
	KindCallCode     CallKind = "CALLCODE"
	KindStaticCall   CallKind = "STATICCALL"
	KindDelegateCall CallKind = "DELEGATECALL"
	KindCreate       CallKind = "CREATE"
	KindCreate2      CallKind = "CREATE2"
	KindSelfDestruct CallKind = "SELFDESTRUCT"
)

// IsCreate reports whether the kind deploys a contract.
func (k CallKind) IsCreate() bool {
	return k == KindCreate || k == KindCreate2
}

// CallKindFromOpCode maps the opcode the EVM reports on frame entry to a CallKind.
func CallKindFromOpCode(op vm.OpCode) (CallKind, bool) {
	switch op {
	case vm.CALL:
		return KindCall, true
	case vm.CALLCODE:
		return KindCallCode, true
	case vm.STATICCALL:
		return KindStaticCall, true
	case vm.DELEGATECALL:
		return KindDelegateCall, true
	case vm.CREATE:
		return KindCreate, true
	case vm.CREATE2:
		return KindCreate2, true
	case vm.SELFDESTRUCT:
		return KindSelfDestruct, true
	}
	return "", false
}

// OpcodeEvent is one executed instruction.
type OpcodeEvent struct {
	Index        int    `json:"index"`
	Opcode       string `json:"opcode"`
	GasRemaining uint64 `json:"gasRemaining"`
}

// Frame is one call, create or self-destruct execution context.
// CreatedAddress is only set for CREATE/CREATE2, Beneficiary only for SELFDESTRUCT.
type Frame struct {
	Index          int             `json:"index"`
	From           *common.Address `json:"from,omitempty"`
	To             *common.Address `json:"to,omitempty"`
	Input          hexutil.Bytes   `json:"input"`
	Output         hexutil.Bytes   `json:"output"`
	Value          *big.Int        `json:"value"`
	Kind           CallKind        `json:"callType"`
	CreatedAddress *common.Address `json:"createdAddress,omitempty"`
	Beneficiary    *common.Address `json:"beneficiary,omitempty"`
	Opcodes        []OpcodeEvent   `json:"opcodes"`
}

// CallStack holds the indices of the open frames, root first.
type CallStack []int

// Top returns the innermost open frame index.
func (s CallStack) Top() (int, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// Copy returns a snapshot that later pushes and pops cannot alias.
func (s CallStack) Copy() CallStack {
	out := make(CallStack, len(s))
	copy(out, s)
	return out
}

// Contains reports whether idx is on the stack.
func (s CallStack) Contains(idx int) bool {
	for _, v := range s {
		if v == idx {
			return true
		}
	}
	return false
}

// NativeToken is the token identifier used for native asset transfers.
const NativeToken = "ETH"

// MoneyFlowEntry is one normalized asset transfer.
// Amount is empty for ERC-1155 entries, whose TokenID carries the raw id/value words.
type MoneyFlowEntry struct {
	Index     int       `json:"index"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	TokenID   string    `json:"tokenId"`
	CallStack CallStack `json:"callStack"`
}

// IsNative reports whether the entry moves the native asset.
func (m MoneyFlowEntry) IsNative() bool {
	return m.Token == NativeToken
}

// DecodeFailure records a recognized token log whose payload could not be decoded.
type DecodeFailure struct {
	LogIndex int       `json:"logIndex"`
	Emitter  string    `json:"emitter"`
	Shape    LogShape  `json:"shape"`
	Reason   string    `json:"reason"`
	Stack    CallStack `json:"callStack"`
}

// CreatedContract is a contract deployed during the transaction.
type CreatedContract struct {
	Address    common.Address `json:"address"`
	Frame      int            `json:"frame"`
	Destructed bool           `json:"destructed"`
}

// TxTrace is everything recorded while replaying one transaction.
type TxTrace struct {
	TxHash           common.Hash       `json:"txHash"`
	BlockNumber      uint64            `json:"blockNumber"`
	Reverted         bool              `json:"reverted"`
	GasUsed          uint64            `json:"gasUsed"`
	Frames           []*Frame          `json:"traces"`
	MoneyFlows       []MoneyFlowEntry  `json:"moneys"`
	Failures         []DecodeFailure   `json:"failures,omitempty"`
	InvokedContracts []common.Address  `json:"invokedContracts,omitempty"`
	CreatedContracts []CreatedContract `json:"createdContracts,omitempty"`
}

// OpcodeCount returns the number of instructions attributed across all frames.
func (t *TxTrace) OpcodeCount() int {
	n := 0
	for _, f := range t.Frames {
		n += len(f.Opcodes)
	}
	return n
}
