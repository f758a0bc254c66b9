package tracing

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	entries := []MoneyFlowEntry{
		{Index: 1, From: "0xaa", To: "0xbb", Token: NativeToken, Amount: "5", CallStack: CallStack{1}},
		{Index: 2, From: "0xaa", To: "0xbb", Token: "0xcc", TokenID: "0x" + hexWords(7, 1000), CallStack: CallStack{1, 2}},
		{Index: 3, From: "0xaa", To: "0xbb", Token: "0xcc", Amount: "1", TokenID: "0x7", CallStack: CallStack{1}},
	}

	rows, err := Normalize(entries)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "5", rows[0].Amount)
	assert.Empty(t, rows[0].TokenID)
	assert.Equal(t, "0x7", rows[1].TokenID)
	assert.Equal(t, "1000", rows[1].Amount)
	assert.Equal(t, CallStack{1, 2}, rows[1].CallStack)
	assert.Equal(t, "0x7", rows[2].TokenID, "721 entries keep their token id")
}

func TestNormalizeEmptyBatchPlaceholder(t *testing.T) {
	rows, err := Normalize([]MoneyFlowEntry{{Index: 1, TokenID: EmptyBatchTokenID}})
	require.NoError(t, err)
	assert.Equal(t, "0x0", rows[0].TokenID)
	assert.Equal(t, "0", rows[0].Amount)
}

func TestNormalizeRejectsMalformedPair(t *testing.T) {
	_, err := Normalize([]MoneyFlowEntry{{Index: 4, TokenID: "0x1234"}})
	assert.ErrorContains(t, err, "money flow 4")

	_, err = Normalize([]MoneyFlowEntry{{Index: 5, TokenID: "not-hex"}})
	assert.Error(t, err)
}

func hexWords(vals ...uint64) string {
	return hex.EncodeToString(words(vals...))
}
