package tracing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func opcodeNames(ops []OpcodeEvent) []string {
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Opcode)
	}
	return names
}

func TestCallTraceBuilderNestedAttribution(t *testing.T) {
	b := NewCallTraceBuilder()

	b.OnEnter(KindCall, addrA, addrB, []byte{0x01}, big.NewInt(0))
	b.OnStep("s1", 100)
	b.OnEnter(KindStaticCall, addrB, addrC, []byte{0x02}, nil)
	b.OnStep("s2", 90)
	_, err := b.OnExit([]byte("out_b"))
	require.NoError(t, err)
	b.OnStep("s3", 80)
	_, err = b.OnExit([]byte("out_a"))
	require.NoError(t, err)

	frames := b.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []string{"s1", "s3"}, opcodeNames(frames[0].Opcodes))
	assert.Equal(t, []string{"s2"}, opcodeNames(frames[1].Opcodes))
	assert.Equal(t, []byte("out_a"), []byte(frames[0].Output))
	assert.Equal(t, []byte("out_b"), []byte(frames[1].Output))

	// frame order, then sequence index, gives back program order
	var all []OpcodeEvent
	for _, f := range frames {
		all = append(all, f.Opcodes...)
	}
	seq := make(map[int]string, len(all))
	for _, op := range all {
		seq[op.Index] = op.Opcode
	}
	assert.Equal(t, map[int]string{1: "s1", 2: "s2", 3: "s3"}, seq)

	assert.Equal(t, 0, b.Depth())
	assert.Equal(t, 0, b.Pending())
}

func TestCallTraceBuilderFrameNumbering(t *testing.T) {
	b := NewCallTraceBuilder()

	// A -> (B -> C) -> D -> E, with a reentrant call back into A
	b.OnEnter(KindCall, addrA, addrB, nil, nil)
	b.OnEnter(KindDelegateCall, addrB, addrC, nil, nil)
	assert.Equal(t, CallStack{1, 2}, b.CallStack())
	_, err := b.OnExit(nil)
	require.NoError(t, err)
	b.OnEnter(KindCall, addrB, addrA, nil, nil)
	b.OnEnter(KindCall, addrA, addrB, nil, nil)
	assert.Equal(t, CallStack{1, 3, 4}, b.CallStack())
	_, err = b.OnExit(nil)
	require.NoError(t, err)
	_, err = b.OnExit(nil)
	require.NoError(t, err)
	b.OnEnter(KindCreate2, addrB, addrC, []byte{0x60}, big.NewInt(5))
	_, err = b.OnExit([]byte{0x00})
	require.NoError(t, err)
	_, err = b.OnExit(nil)
	require.NoError(t, err)

	frames := b.Frames()
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, i+1, f.Index)
	}

	create := frames[4]
	assert.Equal(t, KindCreate2, create.Kind)
	assert.Nil(t, create.To)
	require.NotNil(t, create.CreatedAddress)
	assert.Equal(t, addrC, *create.CreatedAddress)
	assert.Equal(t, big.NewInt(5), create.Value)
}

func TestCallTraceBuilderSelfDestruct(t *testing.T) {
	b := NewCallTraceBuilder()
	b.OnEnter(KindCall, addrA, addrB, nil, nil)
	b.OnStep("PUSH20", 50)
	b.OnStep("SELFDESTRUCT", 45)

	frame, stack, err := b.OnSelfDestruct(addrB, addrC, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Index)
	assert.Equal(t, KindSelfDestruct, frame.Kind)
	assert.Equal(t, addrB, *frame.To)
	assert.Equal(t, addrC, *frame.Beneficiary)
	assert.Empty(t, frame.Opcodes)
	assert.Equal(t, CallStack{1, 2}, stack)
	assert.True(t, stack.Contains(frame.Index))

	// the self-destruct frame is closed immediately
	assert.Equal(t, CallStack{1}, b.CallStack())

	_, err = b.OnExit(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"PUSH20", "SELFDESTRUCT"}, opcodeNames(b.Frames()[0].Opcodes))
}

func TestCallTraceBuilderMalformedSequence(t *testing.T) {
	t.Run("exit without enter", func(t *testing.T) {
		b := NewCallTraceBuilder()
		_, err := b.OnExit(nil)
		assert.ErrorIs(t, err, ErrEmptyCallStack)
	})

	t.Run("self-destruct without frame", func(t *testing.T) {
		b := NewCallTraceBuilder()
		_, _, err := b.OnSelfDestruct(addrA, addrB, big.NewInt(1))
		assert.ErrorIs(t, err, ErrSelfDestructOutsideFrame)
	})
}

func TestCallStackSnapshotIsolation(t *testing.T) {
	b := NewCallTraceBuilder()
	b.OnEnter(KindCall, addrA, addrB, nil, nil)
	snap := b.CallStack()
	b.OnEnter(KindCall, addrB, addrC, nil, nil)
	snap[0] = 42

	assert.Equal(t, CallStack{1, 2}, b.CallStack())
}
