package tracing

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrEmptyCallStack is returned when the engine reports a frame exit with no frame open.
	ErrEmptyCallStack = errors.New("frame exit with empty call stack")
	// ErrSelfDestructOutsideFrame is returned for a self-destruct reported while no frame is open.
	ErrSelfDestructOutsideFrame = errors.New("self-destruct outside of any frame")
)

// CallTraceBuilder reconstructs the call tree of one transaction and attributes every
// executed instruction to the innermost frame that was open when it ran.
//
// Instructions are buffered until the next frame boundary: at step time it is not yet
// known whether the following instructions still belong to the current frame.
type CallTraceBuilder struct {
	traceIndex  int
	opcodeIndex int
	callStack   CallStack
	frames      []*Frame
	pending     []OpcodeEvent
}

// NewCallTraceBuilder 创建调用跟踪器
func NewCallTraceBuilder() *CallTraceBuilder {
	return &CallTraceBuilder{
		callStack: make(CallStack, 0),
		frames:    make([]*Frame, 0),
		pending:   make([]OpcodeEvent, 0),
	}
}

// OnStep records one executed instruction in the pending buffer.
func (b *CallTraceBuilder) OnStep(mnemonic string, gasRemaining uint64) {
	b.opcodeIndex++
	b.pending = append(b.pending, OpcodeEvent{
		Index:        b.opcodeIndex,
		Opcode:       mnemonic,
		GasRemaining: gasRemaining,
	})
}

// OnEnter opens a CALL-family or CREATE-family frame. For creations to is the
// deployment address computed by the engine.
func (b *CallTraceBuilder) OnEnter(kind CallKind, from, to common.Address, input []byte, value *big.Int) *Frame {
	// Everything the parent ran before this call belongs to the parent.
	if b.traceIndex != 0 {
		b.flushPending()
	}

	b.traceIndex++
	b.callStack = append(b.callStack, b.traceIndex)

	frame := &Frame{
		Index:   b.traceIndex,
		From:    addrPtr(from),
		Input:   common.CopyBytes(input),
		Output:  []byte{},
		Value:   copyValue(value),
		Kind:    kind,
		Opcodes: b.takePending(),
	}
	if kind.IsCreate() {
		frame.CreatedAddress = addrPtr(to)
	} else {
		frame.To = addrPtr(to)
	}
	b.frames = append(b.frames, frame)
	return frame
}

// OnExit closes the innermost open frame and records its output.
func (b *CallTraceBuilder) OnExit(output []byte) (*Frame, error) {
	top, ok := b.callStack.Top()
	if !ok {
		return nil, ErrEmptyCallStack
	}
	frame := b.frames[top-1]
	frame.Opcodes = append(frame.Opcodes, b.takePending()...)
	frame.Output = common.CopyBytes(output)
	if frame.Output == nil {
		frame.Output = []byte{}
	}
	b.callStack = b.callStack[:len(b.callStack)-1]
	return frame, nil
}

// OnSelfDestruct records a self-destruct as an instantaneous frame. The returned stack is the
// call stack while the frame was open, so it contains the frame's own index.
func (b *CallTraceBuilder) OnSelfDestruct(contract, beneficiary common.Address, value *big.Int) (*Frame, CallStack, error) {
	if len(b.callStack) == 0 {
		return nil, nil, ErrSelfDestructOutsideFrame
	}
	b.traceIndex++
	b.callStack = append(b.callStack, b.traceIndex)
	frame := &Frame{
		Index:       b.traceIndex,
		To:          addrPtr(contract),
		Input:       []byte{},
		Output:      []byte{},
		Value:       copyValue(value),
		Kind:        KindSelfDestruct,
		Beneficiary: addrPtr(beneficiary),
		Opcodes:     []OpcodeEvent{},
	}
	b.frames = append(b.frames, frame)
	stack := b.callStack.Copy()
	b.callStack = b.callStack[:len(b.callStack)-1]
	return frame, stack, nil
}

// CallStack returns a snapshot of the open frame indices.
func (b *CallTraceBuilder) CallStack() CallStack {
	return b.callStack.Copy()
}

// Depth returns the current nesting depth.
func (b *CallTraceBuilder) Depth() int {
	return len(b.callStack)
}

// Frames returns all frames in entry order.
func (b *CallTraceBuilder) Frames() []*Frame {
	return b.frames
}

// Pending returns the number of instructions not yet attributed to a frame.
func (b *CallTraceBuilder) Pending() int {
	return len(b.pending)
}

func (b *CallTraceBuilder) flushPending() {
	top, ok := b.callStack.Top()
	if !ok {
		return
	}
	frame := b.frames[top-1]
	frame.Opcodes = append(frame.Opcodes, b.takePending()...)
}

// takePending hands the buffered instructions over and starts a fresh buffer.
func (b *CallTraceBuilder) takePending() []OpcodeEvent {
	ops := b.pending
	b.pending = make([]OpcodeEvent, 0)
	return ops
}

func addrPtr(a common.Address) *common.Address {
	return &a
}

func copyValue(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
