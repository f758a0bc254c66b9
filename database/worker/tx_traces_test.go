package worker

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/flowtrace/tracing"
)

func TestNewTxTraceRows(t *testing.T) {
	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")
	trace := &tracing.TxTrace{
		TxHash:      common.HexToHash("0xbeef"),
		BlockNumber: 18_000_000,
		GasUsed:     52_000,
		Frames: []*tracing.Frame{
			{Index: 1, From: &from, To: &to, Kind: tracing.KindCall, Value: big.NewInt(5),
				Opcodes: []tracing.OpcodeEvent{{Index: 1, Opcode: "PUSH1", GasRemaining: 100}}},
			{Index: 2, To: &to, Beneficiary: &from, Kind: tracing.KindSelfDestruct, Value: big.NewInt(0)},
		},
		MoneyFlows: []tracing.MoneyFlowEntry{
			{Index: 1, From: "0x01", To: "0x02", Token: tracing.NativeToken, Amount: "5", CallStack: tracing.CallStack{1}},
			{Index: 2, From: "0x01", To: "0x02", Token: "0x03", TokenID: tracing.EmptyBatchTokenID, CallStack: tracing.CallStack{1, 2}},
		},
		Failures: []tracing.DecodeFailure{{LogIndex: 0}},
	}

	rows, err := NewTxTraceRows(trace)
	require.NoError(t, err)

	assert.Equal(t, trace.TxHash, rows.Trace.Hash)
	assert.EqualValues(t, 18_000_000, rows.Trace.BlockNumber.Int64())
	assert.Equal(t, 2, rows.Trace.FrameCount)
	assert.Equal(t, 1, rows.Trace.OpcodeCount)
	assert.Equal(t, 1, rows.Trace.FailureCount)

	require.Len(t, rows.Frames, 2)
	assert.Equal(t, "CALL", rows.Frames[0].Kind)
	assert.Equal(t, 1, rows.Frames[0].OpcodeCount)
	assert.Nil(t, rows.Frames[1].FromAddress)
	assert.Equal(t, from, *rows.Frames[1].Beneficiary)

	require.Len(t, rows.MoneyFlows, 2)
	assert.Equal(t, "5", rows.MoneyFlows[0].Amount)
	assert.Equal(t, "0", rows.MoneyFlows[1].Amount)
	assert.Equal(t, "0x0", rows.MoneyFlows[1].TokenID)
	assert.Equal(t, tracing.EmptyBatchTokenID, rows.MoneyFlows[1].RawTokenID)
	assert.Equal(t, tracing.CallStack{1, 2}, rows.MoneyFlows[1].CallStack)
	assert.NotEqual(t, rows.MoneyFlows[0].GUID, rows.MoneyFlows[1].GUID)
}

func TestNewTxTraceRowsRejectsMalformedPair(t *testing.T) {
	_, err := NewTxTraceRows(&tracing.TxTrace{
		MoneyFlows: []tracing.MoneyFlowEntry{{Index: 1, TokenID: "0x12"}},
	})
	assert.Error(t, err)
}
