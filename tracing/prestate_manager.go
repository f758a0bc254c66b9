package tracing

import (
	"context"
	"errors"

	"github.com/DQYXACML/flowtrace/synchronizer/node"
	"github.com/DQYXACML/flowtrace/tracing/utils"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var errEmptyPrestate = errors.New("node returned an empty prestate")

// PrestateManager 管理预状态获取
type PrestateManager struct {
	client   node.EthClient
	recovery *utils.ErrorRecovery
}

// NewPrestateManager 创建预状态管理器
func NewPrestateManager(client node.EthClient, recovery *utils.ErrorRecovery) *PrestateManager {
	if recovery == nil {
		recovery = utils.NewErrorRecovery()
	}
	return &PrestateManager{
		client:   client,
		recovery: recovery,
	}
}

// GetPrestate returns every account the transaction touches, as it was before the
// transaction ran.
func (pm *PrestateManager) GetPrestate(ctx context.Context, txHash gethCommon.Hash) (PrestateResult, error) {
	config := map[string]any{
		"tracer": "prestateTracer",
		"tracerConfig": map[string]any{
			"diffMode": false,
		},
		"timeout": "60s",
	}

	var result PrestateResult
	err := pm.recovery.RetryWithRecovery(ctx, func() error {
		if err := pm.client.TraceTransaction(txHash, config, &result); err != nil {
			return utils.NewNetworkError("prestate trace failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, utils.NewReplayError(utils.ErrorTypePrecondition, "cannot build state", txHash, errEmptyPrestate)
	}

	slots := 0
	for _, account := range result {
		if account != nil {
			slots += len(account.Storage)
		}
	}
	log.Debug("Fetched prestate", "tx", txHash, "accounts", len(result), "slots", slots)
	return result, nil
}
