package tracing

import (
	"fmt"
	"math/big"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExecutionContext 包含重放一笔交易所需的全部链上信息
type ExecutionContext struct {
	// 交易相关信息
	Transaction *types.Transaction
	TxHash      gethCommon.Hash
	From        gethCommon.Address

	// 链上信息
	Receipt *types.Receipt
	Block   *types.Header
	ChainID *big.Int

	// 签名器（基于 chainID 创建）
	Signer types.Signer

	// 预状态信息
	Prestate PrestateResult
}

// NewExecutionContext 创建新的执行上下文
func NewExecutionContext(
	tx *types.Transaction,
	receipt *types.Receipt,
	block *types.Header,
	chainID *big.Int,
	prestate PrestateResult,
) (*ExecutionContext, error) {
	signer := types.LatestSignerForChainID(chainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, err
	}

	return &ExecutionContext{
		Transaction: tx,
		TxHash:      tx.Hash(),
		From:        from,
		Receipt:     receipt,
		Block:       block,
		ChainID:     chainID,
		Signer:      signer,
		Prestate:    prestate,
	}, nil
}

func (ec *ExecutionContext) String() string {
	return fmt.Sprintf("tx %s in block %s from %s", ec.TxHash.Hex(), ec.Block.Number, ec.From.Hex())
}
