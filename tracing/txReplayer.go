package tracing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/DQYXACML/flowtrace/synchronizer/node"
	"github.com/DQYXACML/flowtrace/tracing/utils"
	"github.com/ethereum/go-ethereum"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const headerCacheTTL = 10 * time.Minute

// TraceSink receives every successfully replayed transaction.
type TraceSink interface {
	StoreTxTrace(trace *TxTrace) error
}

// ReplayerConfig configures a TransactionReplayer.
type ReplayerConfig struct {
	// ChainID is fetched from the node when nil.
	ChainID *big.Int
	// Verify compares every trace with the node's own callTracer.
	Verify bool
}

// TransactionReplayer resolves a transaction from the node and replays it locally.
// It is safe for concurrent use; every Replay gets its own tracer and state.
type TransactionReplayer struct {
	client   node.EthClient
	prestate *PrestateManager
	engine   *ExecutionEngine
	sinks    []TraceSink
	verify   bool

	chainMu  sync.Mutex
	chainID  *big.Int
	headers  *utils.SafeCache[uint64, *types.Header]
	recovery *utils.ErrorRecovery
	metrics  *utils.MetricsCollector
}

// NewTransactionReplayer creates a replayer that hands each trace to sinks in order.
func NewTransactionReplayer(client node.EthClient, cfg ReplayerConfig, sinks ...TraceSink) *TransactionReplayer {
	recovery := utils.NewErrorRecovery()
	return &TransactionReplayer{
		client:   client,
		prestate: NewPrestateManager(client, recovery),
		engine:   NewExecutionEngine(NewStateManager()),
		sinks:    sinks,
		verify:   cfg.Verify,
		chainID:  cfg.ChainID,
		headers:  utils.NewSafeCache[uint64, *types.Header](headerCacheTTL),
		recovery: recovery,
		metrics:  utils.NewMetricsCollector(),
	}
}

// Metrics returns the replay counters.
func (r *TransactionReplayer) Metrics() *utils.MetricsCollector {
	return r.metrics
}

// ChainID returns the configured chain id, asking the node once if none was configured.
func (r *TransactionReplayer) ChainID(ctx context.Context) (*big.Int, error) {
	r.chainMu.Lock()
	defer r.chainMu.Unlock()
	if r.chainID != nil && r.chainID.Sign() > 0 {
		return r.chainID, nil
	}
	var id *big.Int
	err := r.fetch(ctx, "eth_chainId", func() (err error) {
		id, err = r.client.ChainID()
		return err
	})
	if err != nil {
		return nil, err
	}
	r.chainID = id
	return id, nil
}

// Replay replays txHash and stores the result in every sink.
func (r *TransactionReplayer) Replay(ctx context.Context, txHash gethCommon.Hash) (*TxTrace, error) {
	start := time.Now()
	trace, err := r.replay(ctx, txHash)
	if err != nil {
		r.metrics.RecordFailure(time.Since(start))
		log.Error("Replay failed", "tx", txHash, "err", err)
		return nil, err
	}
	r.metrics.RecordReplay(time.Since(start), utils.ReplayStats{
		Frames:         len(trace.Frames),
		Opcodes:        trace.OpcodeCount(),
		MoneyFlows:     len(trace.MoneyFlows),
		DecodeFailures: len(trace.Failures),
		Reverted:       trace.Reverted,
	})
	log.Info("Replayed transaction", "tx", txHash, "block", trace.BlockNumber, "frames", len(trace.Frames),
		"moneyFlows", len(trace.MoneyFlows), "failures", len(trace.Failures), "reverted", trace.Reverted,
		"elapsed", time.Since(start))
	return trace, nil
}

func (r *TransactionReplayer) replay(ctx context.Context, txHash gethCommon.Hash) (*TxTrace, error) {
	ec, err := r.BuildContext(ctx, txHash)
	if err != nil {
		return nil, err
	}

	trace, err := r.engine.Execute(ec)
	if err != nil {
		return nil, err
	}

	if r.verify {
		if err := r.verifyTrace(ctx, ec, trace); err != nil {
			return nil, err
		}
	}

	for _, sink := range r.sinks {
		if err := sink.StoreTxTrace(trace); err != nil {
			return nil, utils.NewReplayError(utils.ErrorTypeStorage, "failed to store trace", txHash, err)
		}
	}
	return trace, nil
}

// BuildContext resolves everything needed to replay txHash.
func (r *TransactionReplayer) BuildContext(ctx context.Context, txHash gethCommon.Hash) (*ExecutionContext, error) {
	var (
		tx      *types.Transaction
		receipt *types.Receipt
	)
	if err := r.fetch(ctx, "transaction", func() (err error) {
		tx, err = r.client.TxByHash(txHash)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.fetch(ctx, "receipt", func() (err error) {
		receipt, err = r.client.TxReceiptByHash(txHash)
		return err
	}); err != nil {
		return nil, err
	}
	if receipt.BlockNumber == nil {
		return nil, utils.NewReplayError(utils.ErrorTypePrecondition, "transaction is pending", txHash, nil)
	}

	header, err := r.headers.GetOrLoad(receipt.BlockNumber.Uint64(), func() (*types.Header, error) {
		var h *types.Header
		err := r.fetch(ctx, "header", func() (err error) {
			h, err = r.client.BlockHeaderByNumber(receipt.BlockNumber)
			return err
		})
		return h, err
	})
	if err != nil {
		return nil, err
	}

	chainID, err := r.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	prestate, err := r.prestate.GetPrestate(ctx, txHash)
	if err != nil {
		return nil, err
	}

	ec, err := NewExecutionContext(tx, receipt, header, chainID, prestate)
	if err != nil {
		return nil, utils.NewReplayError(utils.ErrorTypePrecondition, "failed to recover sender", txHash, err)
	}
	return ec, nil
}

// verifyTrace checks the replay against the node: same frame count as its callTracer
// and same success status as the receipt.
func (r *TransactionReplayer) verifyTrace(ctx context.Context, ec *ExecutionContext, trace *TxTrace) error {
	var root *node.NodecallFrame
	if err := r.fetch(ctx, "callTracer", func() (err error) {
		root, err = r.client.TraceCallPath(ec.TxHash)
		return err
	}); err != nil {
		return err
	}

	if want := root.FrameCount(); want != len(trace.Frames) {
		return utils.NewReplayError(utils.ErrorTypeVerification, "frame count mismatch", ec.TxHash,
			fmt.Errorf("node reports %d frames, replay produced %d", want, len(trace.Frames)))
	}
	if failed := ec.Receipt.Status == types.ReceiptStatusFailed; failed != trace.Reverted {
		return utils.NewReplayError(utils.ErrorTypeVerification, "status mismatch", ec.TxHash,
			fmt.Errorf("receipt failed=%t, replay reverted=%t", failed, trace.Reverted))
	}
	if ec.Receipt.GasUsed != trace.GasUsed {
		log.Warn("Replay gas differs from receipt", "tx", ec.TxHash, "receipt", ec.Receipt.GasUsed, "replay", trace.GasUsed)
	}
	return nil
}

// fetch runs one node request with retries; missing objects are not retried.
func (r *TransactionReplayer) fetch(ctx context.Context, what string, call func() error) error {
	return r.recovery.RetryWithRecovery(ctx, func() error {
		err := call()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ethereum.NotFound):
			return utils.WrapError(utils.ErrorTypeNotFound, what+" not found", err)
		default:
			return utils.NewNetworkError("failed to fetch "+what, err)
		}
	})
}
