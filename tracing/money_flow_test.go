package tracing

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	holderA = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	holderB = common.HexToAddress("0x1Db3439a222C519ab44bb1144fC28167b4Fa6EE6")
	opAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func topic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func words(vals ...uint64) []byte {
	out := make([]byte, 0, len(vals)*wordSize)
	for _, v := range vals {
		out = append(out, common.BigToHash(new(big.Int).SetUint64(v)).Bytes()...)
	}
	return out
}

// batchPayload encodes (uint256[] ids, uint256[] values) the way solc does.
func batchPayload(ids, values []uint64) []byte {
	n := uint64(len(ids))
	head := []uint64{0x40, 0x40 + (n+1)*wordSize, n}
	head = append(head, ids...)
	head = append(head, uint64(len(values)))
	head = append(head, values...)
	return words(head...)
}

func TestEventSignatures(t *testing.T) {
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", TransferSig.Hex())
	assert.Equal(t, "0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62", TransferSingleSig.Hex())
	assert.Equal(t, "0x4a39dc06d4c0dbc64b70af90fd698a233a518aa5d07e595d983b8c0526c8f7fb", TransferBatchSig.Hex())
	assert.Len(t, EmptyBatchTokenID, 130)
}

func TestDecodeERC20Transfer(t *testing.T) {
	d := NewMoneyFlowDecoder()
	n := d.OnLog(0, token, []common.Hash{TransferSig, topic(holderA), topic(holderB)}, words(100), CallStack{1})
	require.Equal(t, 1, n)

	got := d.MoneyFlows()[0]
	assert.Equal(t, MoneyFlowEntry{
		Index:     1,
		From:      strings.ToLower(holderA.Hex()),
		To:        strings.ToLower(holderB.Hex()),
		Token:     strings.ToLower(token.Hex()),
		Amount:    "100",
		TokenID:   "",
		CallStack: CallStack{1},
	}, got)
	assert.False(t, got.IsNative())
}

func TestDecodeERC721Transfer(t *testing.T) {
	d := NewMoneyFlowDecoder()
	topics := []common.Hash{TransferSig, topic(holderA), topic(holderB), common.BigToHash(big.NewInt(7))}
	require.Equal(t, 1, d.OnLog(0, token, topics, nil, CallStack{1}))

	got := d.MoneyFlows()[0]
	assert.Equal(t, "1", got.Amount)
	assert.Equal(t, "0x7", got.TokenID)
	assert.Equal(t, strings.ToLower(holderA.Hex()), got.From)

	topics[3] = common.Hash{}
	require.Equal(t, 1, d.OnLog(1, token, topics, nil, CallStack{1}))
	assert.Equal(t, "0x0", d.MoneyFlows()[1].TokenID)
}

func TestDecodeTransferSingle(t *testing.T) {
	d := NewMoneyFlowDecoder()
	topics := []common.Hash{TransferSingleSig, topic(opAddr), topic(holderA), topic(holderB)}
	data := words(9, 250)
	require.Equal(t, 1, d.OnLog(0, token, topics, data, CallStack{1, 2}))

	got := d.MoneyFlows()[0]
	assert.Equal(t, strings.ToLower(holderA.Hex()), got.From, "operator must be skipped")
	assert.Equal(t, strings.ToLower(holderB.Hex()), got.To)
	assert.Empty(t, got.Amount)
	assert.Len(t, got.TokenID, 2+128)
	assert.True(t, strings.HasSuffix(got.TokenID, "fa"))
}

func TestDecodeTransferBatch(t *testing.T) {
	topics := []common.Hash{TransferBatchSig, topic(opAddr), topic(holderA), topic(holderB)}

	t.Run("elements", func(t *testing.T) {
		d := NewMoneyFlowDecoder()
		n := d.OnLog(0, token, topics, batchPayload([]uint64{1, 2, 3}, []uint64{10, 20, 30}), CallStack{1, 4})
		require.Equal(t, 3, n)

		rows, err := Normalize(d.MoneyFlows())
		require.NoError(t, err)
		for i, row := range rows {
			assert.Equal(t, i+1, row.Index)
			assert.Equal(t, CallStack{1, 4}, row.CallStack)
			assert.Equal(t, strings.ToLower(holderA.Hex()), row.From)
		}
		assert.Equal(t, []string{"0x1", "0x2", "0x3"}, []string{rows[0].TokenID, rows[1].TokenID, rows[2].TokenID})
		assert.Equal(t, []string{"10", "20", "30"}, []string{rows[0].Amount, rows[1].Amount, rows[2].Amount})
	})

	t.Run("empty batch yields placeholder", func(t *testing.T) {
		d := NewMoneyFlowDecoder()
		n := d.OnLog(0, token, topics, batchPayload(nil, nil), CallStack{1})
		require.Equal(t, 1, n)
		assert.Equal(t, EmptyBatchTokenID, d.MoneyFlows()[0].TokenID)
		assert.Equal(t, "0x"+strings.Repeat("0", 128), d.MoneyFlows()[0].TokenID)
	})
}

func TestDecodeFailures(t *testing.T) {
	cases := []struct {
		name   string
		topics []common.Hash
		data   []byte
		shape  LogShape
	}{
		{
			name:   "erc20 short value",
			topics: []common.Hash{TransferSig, topic(holderA), topic(holderB)},
			data:   make([]byte, 31),
			shape:  ShapeERC20,
		},
		{
			name:   "single with one word",
			topics: []common.Hash{TransferSingleSig, topic(opAddr), topic(holderA), topic(holderB)},
			data:   words(1),
			shape:  ShapeERC1155Single,
		},
		{
			name:   "batch shorter than header",
			topics: []common.Hash{TransferBatchSig, topic(opAddr), topic(holderA), topic(holderB)},
			data:   words(0x40, 0x60, 0),
			shape:  ShapeERC1155Batch,
		},
		{
			name:   "batch not word aligned",
			topics: []common.Hash{TransferBatchSig, topic(opAddr), topic(holderA), topic(holderB)},
			data:   append(batchPayload([]uint64{1}, []uint64{1}), 0x00),
			shape:  ShapeERC1155Batch,
		},
		{
			name:   "batch declares more ids than it carries",
			topics: []common.Hash{TransferBatchSig, topic(opAddr), topic(holderA), topic(holderB)},
			data:   words(0x40, 0x60, 2, 0),
			shape:  ShapeERC1155Batch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewMoneyFlowDecoder()
			assert.Equal(t, 0, d.OnLog(3, token, tc.topics, tc.data, CallStack{1}))
			assert.Empty(t, d.MoneyFlows())
			require.Len(t, d.Failures(), 1)
			assert.Equal(t, tc.shape, d.Failures()[0].Shape)
			assert.Equal(t, 3, d.Failures()[0].LogIndex)

			// a failure consumes no ledger index
			d.OnEnter(KindCall, holderA, holderB, big.NewInt(1), CallStack{1, 2})
			assert.Equal(t, 1, d.MoneyFlows()[0].Index)
		})
	}
}

func TestUnrelatedLogsIgnored(t *testing.T) {
	d := NewMoneyFlowDecoder()
	approval := common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925")

	assert.Equal(t, 0, d.OnLog(0, token, nil, nil, CallStack{1}))
	assert.Equal(t, 0, d.OnLog(1, token, []common.Hash{approval, topic(holderA), topic(holderB)}, words(1), CallStack{1}))
	// Transfer with 2 topics is neither ERC-20 nor ERC-721
	assert.Equal(t, 0, d.OnLog(2, token, []common.Hash{TransferSig, topic(holderA)}, words(1), CallStack{1}))
	assert.Empty(t, d.MoneyFlows())
	assert.Empty(t, d.Failures())
}

func TestNativeTransfers(t *testing.T) {
	d := NewMoneyFlowDecoder()

	d.OnEnter(KindCall, holderA, holderB, big.NewInt(1000), CallStack{1})
	d.OnEnter(KindCall, holderA, holderB, big.NewInt(0), CallStack{1, 2})
	d.OnEnter(KindCall, holderA, holderB, nil, CallStack{1, 3})
	d.OnEnter(KindStaticCall, holderA, holderB, big.NewInt(5), CallStack{1, 4})
	d.OnEnter(KindDelegateCall, holderA, holderB, big.NewInt(5), CallStack{1, 5})
	d.OnEnter(KindCallCode, holderA, holderB, big.NewInt(5), CallStack{1, 6})
	d.OnEnter(KindCreate, holderA, token, big.NewInt(2), CallStack{1, 7})
	d.OnSelfDestruct(token, holderB, big.NewInt(0), CallStack{1, 7, 8})
	d.OnSelfDestruct(token, holderB, big.NewInt(3), CallStack{1, 7, 9})

	flows := d.MoneyFlows()
	require.Len(t, flows, 3)
	for i, f := range flows {
		assert.Equal(t, i+1, f.Index)
		assert.True(t, f.IsNative())
	}
	assert.Equal(t, "1000", flows[0].Amount)
	assert.Equal(t, CallStack{1}, flows[0].CallStack)
	assert.Equal(t, strings.ToLower(token.Hex()), flows[1].To)
	assert.Equal(t, strings.ToLower(token.Hex()), flows[2].From)
	assert.Equal(t, CallStack{1, 7, 9}, flows[2].CallStack)
}

func TestMoneyFlowIndexContiguity(t *testing.T) {
	d := NewMoneyFlowDecoder()
	batch := []common.Hash{TransferBatchSig, topic(opAddr), topic(holderA), topic(holderB)}
	erc20 := []common.Hash{TransferSig, topic(holderA), topic(holderB)}

	d.OnEnter(KindCall, holderA, holderB, big.NewInt(1), CallStack{1})
	d.OnLog(0, token, batch, batchPayload([]uint64{1, 2}, []uint64{3, 4}), CallStack{1})
	d.OnLog(1, token, erc20, make([]byte, 5), CallStack{1})
	d.OnEnter(KindCreate2, holderB, token, big.NewInt(9), CallStack{1, 2})
	d.OnLog(2, token, erc20, words(50), CallStack{1, 2})
	d.OnSelfDestruct(token, holderA, big.NewInt(9), CallStack{1, 2, 3})

	flows := d.MoneyFlows()
	require.Len(t, flows, 6)
	for i, f := range flows {
		assert.Equal(t, i+1, f.Index)
	}
	assert.Len(t, d.Failures(), 1)
}
