package tracing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	// TransferSig is shared by ERC-20/777 (3 topics) and ERC-721 (4 topics).
	TransferSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	// TransferSingleSig is the ERC-1155 single transfer event.
	TransferSingleSig = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))
	// TransferBatchSig is the ERC-1155 batch transfer event.
	TransferBatchSig = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])"))
)

const wordSize = 32

// EmptyBatchTokenID is recorded for a TransferBatch log that carries no elements.
var EmptyBatchTokenID = "0x" + strings.Repeat("0", 4*wordSize)

var (
	errPayloadLength = errors.New("unexpected payload length")
	errBatchLength   = errors.New("batch length exceeds payload")
)

// LogShape names the token transfer convention a log was matched against.
type LogShape string

const (
	ShapeERC20         LogShape = "erc20"
	ShapeERC721        LogShape = "erc721"
	ShapeERC1155Single LogShape = "erc1155-single"
	ShapeERC1155Batch  LogShape = "erc1155-batch"
)

type logKey struct {
	topics int
	sig    common.Hash
}

func (k logKey) shape() LogShape {
	switch {
	case k.sig == TransferSig && k.topics == 3:
		return ShapeERC20
	case k.sig == TransferSig:
		return ShapeERC721
	case k.sig == TransferSingleSig:
		return ShapeERC1155Single
	default:
		return ShapeERC1155Batch
	}
}

type transfer struct {
	from    string
	to      string
	amount  string
	tokenID string
}

type logHandler func(topics []common.Hash, data []byte) ([]transfer, error)

// decodeFungibleTransfer: Transfer(from indexed, to indexed, value).
func decodeFungibleTransfer(topics []common.Hash, data []byte) ([]transfer, error) {
	if len(data) != wordSize {
		return nil, fmt.Errorf("%w: value word has %d bytes", errPayloadLength, len(data))
	}
	amount := new(uint256.Int).SetBytes32(data)
	return []transfer{{
		from:   topicAddress(topics[1]),
		to:     topicAddress(topics[2]),
		amount: amount.Dec(),
	}}, nil
}

// decodeNonFungibleTransfer: Transfer(from indexed, to indexed, tokenId indexed).
func decodeNonFungibleTransfer(topics []common.Hash, _ []byte) ([]transfer, error) {
	return []transfer{{
		from:    topicAddress(topics[1]),
		to:      topicAddress(topics[2]),
		amount:  "1",
		tokenID: new(uint256.Int).SetBytes32(topics[3][:]).Hex(),
	}}, nil
}

// decodeTransferSingle keeps the (id, value) word pair verbatim in the token id.
// topics[1] is the operator.
func decodeTransferSingle(topics []common.Hash, data []byte) ([]transfer, error) {
	if len(data) != 2*wordSize {
		return nil, fmt.Errorf("%w: id/value pair has %d bytes", errPayloadLength, len(data))
	}
	return []transfer{{
		from:    topicAddress(topics[2]),
		to:      topicAddress(topics[3]),
		tokenID: hexutil.Encode(data),
	}}, nil
}

// decodeTransferBatch splits TransferBatch(ids, values) into one transfer per element.
//
// The payload is assumed to be the tightly packed encoding of two equal length arrays:
//
//	word 0        offset of ids
//	word 1        offset of values
//	word 2        N
//	words 3..3+N  ids
//	word 3+N      N (values length, not checked)
//	words 4+N..   values
//
// N is derived from the payload size. The declared ids length may not exceed it.
func decodeTransferBatch(topics []common.Hash, data []byte) ([]transfer, error) {
	from, to := topicAddress(topics[2]), topicAddress(topics[3])

	if len(data) < 4*wordSize || len(data)%wordSize != 0 {
		return nil, fmt.Errorf("%w: batch payload has %d bytes", errPayloadLength, len(data))
	}
	n := (len(data) - 4*wordSize) / (2 * wordSize)

	declared := new(uint256.Int).SetBytes32(word(data, 2))
	if !declared.IsUint64() || declared.Uint64() > uint64(n) {
		return nil, fmt.Errorf("%w: declared %s elements, payload holds %d", errBatchLength, declared.Dec(), n)
	}

	if n == 0 {
		return []transfer{{from: from, to: to, tokenID: EmptyBatchTokenID}}, nil
	}
	out := make([]transfer, 0, n)
	for i := 0; i < n; i++ {
		id := word(data, 3+i)
		value := word(data, 4+n+i)
		out = append(out, transfer{
			from:    from,
			to:      to,
			tokenID: "0x" + hex.EncodeToString(id) + hex.EncodeToString(value),
		})
	}
	return out, nil
}

// word returns the i-th 32-byte word of data.
func word(data []byte, i int) []byte {
	return data[i*wordSize : (i+1)*wordSize]
}

// topicAddress reduces an indexed address parameter to its 20-byte form.
func topicAddress(topic common.Hash) string {
	return FormatAddress(common.BytesToAddress(topic[12:]))
}
