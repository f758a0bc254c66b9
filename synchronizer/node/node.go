package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultDialTimeout = 5 * time.Second

	defaultRequestTimeout = 100 * time.Second

	defaultHeaderTimeout = 10 * time.Second
)

type myClient struct {
	rpc RPC
}

// TraceTransaction runs debug_traceTransaction with the given tracer configuration.
func (m *myClient) TraceTransaction(hash common.Hash, tracerCfg map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	if err := m.rpc.CallContext(ctx, result, "debug_traceTransaction", hash, tracerCfg); err != nil {
		return fmt.Errorf("debug_traceTransaction %s: %w", hash, err)
	}
	return nil
}

func (m *myClient) TraceCallPath(hash common.Hash) (*NodecallFrame, error) {
	var root NodecallFrame
	cfg := map[string]any{"tracer": "callTracer"}
	if err := m.TraceTransaction(hash, cfg, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// rpcBlock is the subset of eth_getBlockByNumber (without full transactions) we decode.
type rpcBlock struct {
	Hash         common.Hash   `json:"hash"`
	Transactions []common.Hash `json:"transactions"`
}

// BlockTxHashes returns the transaction hashes of a block in execution order.
func (m *myClient) BlockTxHashes(blockNumber *big.Int) ([]common.Hash, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var block *rpcBlock
	if err := m.rpc.CallContext(ctx, &block, "eth_getBlockByNumber", toBlockNumArg(blockNumber), false); err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("block %s: %w", toBlockNumArg(blockNumber), ethereum.NotFound)
	}
	return block.Transactions, nil
}

func (m *myClient) TxReceiptByHash(hash common.Hash) (*types.Receipt, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var txReceipt *types.Receipt
	err := m.rpc.CallContext(ctxwt, &txReceipt, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	} else if txReceipt == nil {
		return nil, ethereum.NotFound
	}

	return txReceipt, nil
}

func (m *myClient) ChainID() (*big.Int, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var id hexutil.Big
	if err := m.rpc.CallContext(ctxwt, &id, "eth_chainId"); err != nil {
		log.Error("Call eth_chainId method fail", "err", err)
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (m *myClient) BlockHeadersByRange(startHeight *big.Int, engHeight *big.Int, chainId uint) ([]types.Header, error) {
	if startHeight.Cmp(engHeight) == 0 {
		header, err := m.BlockHeaderByNumber(startHeight)
		if err != nil {
			return nil, err
		}
		return []types.Header{*header}, nil
	}

	count := new(big.Int).Sub(engHeight, startHeight).Uint64() + 1
	headers := make([]types.Header, count)
	batchElems := make([]rpc.BatchElem, count)

	for i := uint64(0); i < count; i++ {
		height := new(big.Int).Add(startHeight, new(big.Int).SetUint64(i))
		batchElems[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{toBlockNumArg(height), false},
			Result: &headers[i],
		}
	}

	ctxwt, cancel := context.WithTimeout(context.Background(), defaultHeaderTimeout)
	defer cancel()
	err := m.rpc.BatchCallContext(ctxwt, batchElems)
	if err != nil {
		return nil, err
	}

	size := 0
	for i, batchElem := range batchElems {
		if batchElem.Error != nil {
			// keep the contiguous prefix, the rest is picked up next round
			log.Warn("Header batch element failed", "height", batchElem.Args[0], "err", batchElem.Error)
			break
		}
		header, ok := batchElem.Result.(*types.Header)
		if !ok || header.Number == nil {
			break
		}
		headers[i] = *header

		size = size + 1
	}
	headers = headers[:size]

	return headers, nil
}

func (m *myClient) BlockHeaderByNumber(b *big.Int) (*types.Header, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultHeaderTimeout)
	defer cancel()

	var header *types.Header
	err := m.rpc.CallContext(ctxwt, &header, "eth_getBlockByNumber", toBlockNumArg(b), false)
	if err != nil {
		log.Error("Call eth_getBlockByNumber method fail", "err", err)
		return nil, err
	} else if header == nil {
		log.Error("header not found", "number", toBlockNumArg(b))
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (m *myClient) BlockHeaderByHash(hash common.Hash) (*types.Header, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var header *types.Header
	err := m.rpc.CallContext(ctxwt, &header, "eth_getBlockByHash", hash, false)
	if err != nil {
		return nil, err
	} else if header == nil {
		return nil, ethereum.NotFound
	}

	if header.Hash() != hash {
		return nil, errors.New("header mismatch")
	}

	return header, nil
}

func (m *myClient) TxByHash(hash common.Hash) (*types.Transaction, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var tx *types.Transaction
	err := m.rpc.CallContext(ctxwt, &tx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	} else if tx == nil {
		return nil, ethereum.NotFound
	}

	log.Debug("Fetched transaction", "hash", hash, "type", tx.Type(), "input", len(tx.Data()))

	return tx, nil
}

func (m *myClient) Close() {
	m.rpc.Close()
}

type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// NodecallFrame is a frame of the node's built-in callTracer output.
type NodecallFrame struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Input   string          `json:"input"`
	Output  string          `json:"output,omitempty"`
	Calls   []NodecallFrame `json:"calls,omitempty"`
	Gas     string          `json:"gas"`
	GasUsed string          `json:"gasUsed"`
	Value   string          `json:"value"`
	Error   string          `json:"error,omitempty"`
}

// FrameCount counts this frame and all of its descendants.
func (f *NodecallFrame) FrameCount() int {
	n := 1
	for i := range f.Calls {
		n += f.Calls[i].FrameCount()
	}
	return n
}

type EthClient interface {
	BlockHeaderByNumber(*big.Int) (*types.Header, error)
	BlockHeaderByHash(hash common.Hash) (*types.Header, error)
	BlockHeadersByRange(*big.Int, *big.Int, uint) ([]types.Header, error)
	BlockTxHashes(blockNumber *big.Int) ([]common.Hash, error)
	ChainID() (*big.Int, error)

	TxByHash(hash common.Hash) (*types.Transaction, error)
	TxReceiptByHash(common.Hash) (*types.Receipt, error)

	TraceTransaction(hash common.Hash, tracerCfg map[string]any, result any) error
	TraceCallPath(hash common.Hash) (*NodecallFrame, error)

	Close()
}

func DialEthClient(ctx context.Context, rpcUrl string) (EthClient, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial address (%s): %w", rpcUrl, err)
	}

	return &myClient{
		rpc: NewRPC(rpcClient),
	}, nil
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	err := c.rpc.CallContext(ctx, result, method, args...)
	return err
}

func (c *rpcClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	err := c.rpc.BatchCallContext(ctx, b)
	return err
}

func toBlockNumArg(b *big.Int) string {
	if b == nil {
		return "latest"
	}
	if b.Sign() >= 0 {
		return hexutil.EncodeBig(b)
	}
	return rpc.BlockNumber(b.Int64()).String()
}
