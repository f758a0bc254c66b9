package tracing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
)

// FlowTracer accumulates the call tree and the money flow of exactly one transaction.
// It is not safe for concurrent use; the EVM delivers events from a single goroutine.
type FlowTracer struct {
	txHash  common.Hash
	builder *CallTraceBuilder
	decoder *MoneyFlowDecoder

	logIndex int
	err      error

	invoked     []common.Address
	invokedSeen map[common.Address]struct{}
	created     []CreatedContract
	createdAt   map[common.Address]int

	// geth reports SELFDESTRUCT as an enter immediately followed by an exit.
	skipExit bool
}

// NewFlowTracer 创建单笔交易的资金流跟踪器
func NewFlowTracer(txHash common.Hash) *FlowTracer {
	return &FlowTracer{
		txHash:      txHash,
		builder:     NewCallTraceBuilder(),
		decoder:     NewMoneyFlowDecoder(),
		invoked:     make([]common.Address, 0),
		invokedSeen: make(map[common.Address]struct{}),
		created:     make([]CreatedContract, 0),
		createdAt:   make(map[common.Address]int),
	}
}

// Enter opens a call or create frame.
func (t *FlowTracer) Enter(kind CallKind, from, to common.Address, input []byte, value *big.Int) {
	if t.err != nil {
		return
	}
	frame := t.builder.OnEnter(kind, from, to, input, value)
	t.decoder.OnEnter(kind, from, to, value, t.builder.CallStack())

	if kind.IsCreate() {
		t.createdAt[to] = len(t.created)
		t.created = append(t.created, CreatedContract{Address: to, Frame: frame.Index})
		return
	}
	// DELEGATECALL and CALLCODE run the target's code too.
	if _, ok := t.invokedSeen[to]; !ok {
		t.invokedSeen[to] = struct{}{}
		t.invoked = append(t.invoked, to)
	}
}

// Exit closes the innermost frame.
func (t *FlowTracer) Exit(output []byte) {
	if t.err != nil {
		return
	}
	if _, err := t.builder.OnExit(output); err != nil {
		t.fail(err)
	}
}

// Step records one executed instruction.
func (t *FlowTracer) Step(mnemonic string, gasRemaining uint64) {
	if t.err != nil {
		return
	}
	t.builder.OnStep(mnemonic, gasRemaining)
}

// SelfDestruct records a self-destruct of contract in favour of beneficiary.
func (t *FlowTracer) SelfDestruct(contract, beneficiary common.Address, value *big.Int) {
	if t.err != nil {
		return
	}
	_, stack, err := t.builder.OnSelfDestruct(contract, beneficiary, value)
	if err != nil {
		t.fail(err)
		return
	}
	t.decoder.OnSelfDestruct(contract, beneficiary, value, stack)
	if i, ok := t.createdAt[contract]; ok {
		t.created[i].Destructed = true
	}
}

// Log feeds an emitted log to the money flow decoder.
func (t *FlowTracer) Log(emitter common.Address, topics []common.Hash, data []byte) {
	if t.err != nil {
		return
	}
	idx := t.logIndex
	t.logIndex++
	t.decoder.OnLog(idx, emitter, topics, data, t.builder.CallStack())
}

// Err returns the first malformed event sequence error, if any.
func (t *FlowTracer) Err() error {
	return t.err
}

func (t *FlowTracer) fail(err error) {
	log.Error("Malformed execution event sequence", "tx", t.txHash, "depth", t.builder.Depth(), "err", err)
	t.err = err
}

// Result returns everything recorded so far.
func (t *FlowTracer) Result() *TxTrace {
	invoked := make([]common.Address, len(t.invoked))
	copy(invoked, t.invoked)
	created := make([]CreatedContract, len(t.created))
	copy(created, t.created)
	return &TxTrace{
		TxHash:           t.txHash,
		Frames:           t.builder.Frames(),
		MoneyFlows:       t.decoder.MoneyFlows(),
		Failures:         t.decoder.Failures(),
		InvokedContracts: invoked,
		CreatedContracts: created,
	}
}

// Hooks adapts the tracer to the EVM's live tracing interface.
func (t *FlowTracer) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.onEnter,
		OnExit:   t.onExit,
		OnOpcode: t.onOpcode,
		OnLog:    t.onLog,
	}
}

func (t *FlowTracer) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	kind, ok := CallKindFromOpCode(vm.OpCode(typ))
	if !ok {
		log.Warn("Unknown frame type", "tx", t.txHash, "type", vm.OpCode(typ).String(), "depth", depth)
		kind = KindCall
	}
	if kind == KindSelfDestruct {
		t.skipExit = true
		t.SelfDestruct(from, to, value)
		return
	}
	t.Enter(kind, from, to, input, value)
}

func (t *FlowTracer) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if t.skipExit {
		t.skipExit = false
		return
	}
	t.Exit(output)
}

func (t *FlowTracer) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	t.Step(vm.OpCode(op).String(), gas)
}

func (t *FlowTracer) onLog(l *types.Log) {
	if l == nil {
		return
	}
	t.Log(l.Address, l.Topics, l.Data)
}
