package storage

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	common2 "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/flowtrace/tracing"
)

func TestFileSinkRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	to := common2.HexToAddress("0x0000000000000000000000000000000000000bee")
	trace := &tracing.TxTrace{
		TxHash:      common2.HexToHash("0xABCDEF"),
		BlockNumber: 42,
		Frames: []*tracing.Frame{{
			Index:   1,
			To:      &to,
			Input:   []byte{0x01},
			Output:  []byte{},
			Value:   new(big.Int).Lsh(big.NewInt(1), 200),
			Kind:    tracing.KindCall,
			Opcodes: []tracing.OpcodeEvent{{Index: 1, Opcode: "STOP", GasRemaining: 9}},
		}},
		MoneyFlows: []tracing.MoneyFlowEntry{{Index: 1, From: "0x01", To: "0x02", Token: tracing.NativeToken, Amount: "7", CallStack: tracing.CallStack{1}}},
	}
	require.NoError(t, sink.StoreTxTrace(trace))

	path := sink.Path(trace.TxHash)
	assert.Equal(t, filepath.Join(dir, "0x0000000000000000000000000000000000000000000000000000000000abcdef.json"), path)

	got, err := ReadTxTrace(path)
	require.NoError(t, err)
	assert.Equal(t, trace.TxHash, got.TxHash)
	require.Len(t, got.Frames, 1)
	assert.Equal(t, 0, trace.Frames[0].Value.Cmp(got.Frames[0].Value))
	assert.Equal(t, trace.MoneyFlows, got.MoneyFlows)

	// the file carries the moneys/traces layout
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "moneys")
	assert.Contains(t, doc, "traces")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}

func TestNewFileSinkRequiresDir(t *testing.T) {
	_, err := NewFileSink("")
	assert.Error(t, err)
}
