package flowtrace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	common2 "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/flowtrace/config"
	"github.com/DQYXACML/flowtrace/database"
	"github.com/DQYXACML/flowtrace/storage"
	"github.com/DQYXACML/flowtrace/synchronizer"
	"github.com/DQYXACML/flowtrace/synchronizer/node"
	"github.com/DQYXACML/flowtrace/tracing"
	"github.com/DQYXACML/flowtrace/tracing/utils"
)

// FlowTrace 组装节点客户端、重放器与输出端
type FlowTrace struct {
	cfg          *config.Config
	client       node.EthClient
	db           *database.DB
	replayer     *tracing.TransactionReplayer
	blocks       *synchronizer.BlockReplayer
	synchronizer *synchronizer.Synchronizer

	stopped atomic.Bool
}

func NewFlowTrace(ctx context.Context, cfg *config.Config) (*FlowTrace, error) {
	ethClient, err := node.DialEthClient(ctx, cfg.Chain.ChainRpcUrl)
	if err != nil {
		log.Error("new eth client fail", "err", err)
		return nil, err
	}

	var sinks []tracing.TraceSink
	if cfg.Replay.OutDir != "" {
		fileSink, err := storage.NewFileSink(cfg.Replay.OutDir)
		if err != nil {
			ethClient.Close()
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	var db *database.DB
	if cfg.Replay.StoreDB || cfg.HasDB() {
		db, err = database.NewDB(ctx, cfg.MasterDB)
		if err != nil {
			log.Error("new database fail", "err", err)
			ethClient.Close()
			return nil, err
		}
		sinks = append(sinks, db)
	}

	replayerCfg := tracing.ReplayerConfig{Verify: cfg.Replay.Verify}
	if cfg.Chain.ChainId > 0 {
		replayerCfg.ChainID = new(big.Int).SetUint64(uint64(cfg.Chain.ChainId))
	}
	replayer := tracing.NewTransactionReplayer(ethClient, replayerCfg, sinks...)

	return &FlowTrace{
		cfg:      cfg,
		client:   ethClient,
		db:       db,
		replayer: replayer,
		blocks:   synchronizer.NewBlockReplayer(ethClient, replayer, cfg.Replay.Workers),
	}, nil
}

// ReplayTxs replays the given transactions in order and returns their traces.
// It stops at the first failure.
func (ft *FlowTrace) ReplayTxs(ctx context.Context, hashes []common2.Hash) ([]*tracing.TxTrace, error) {
	traces := make([]*tracing.TxTrace, 0, len(hashes))
	for _, hash := range hashes {
		trace, err := ft.replayer.Replay(ctx, hash)
		if err != nil {
			return traces, fmt.Errorf("replay %s: %w", hash, err)
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func (ft *FlowTrace) ReplayBlocks(ctx context.Context, from, to uint64) ([]synchronizer.BlockResult, error) {
	return ft.blocks.ReplayBlocks(ctx, from, to)
}

// Metrics returns the replay counters collected so far.
func (ft *FlowTrace) Metrics() *utils.MetricsCollector {
	return ft.replayer.Metrics()
}

// Start 启动跟随模式, 持续重放已确认区块
func (ft *FlowTrace) Start(ctx context.Context) error {
	// a nil *database.DB must not end up inside the interface
	var store synchronizer.HeaderStore
	if ft.db != nil {
		store = ft.db
	}
	shutdown := func(cause error) {
		log.Error("shutting down follower", "err", cause)
		ft.stopped.Store(true)
	}
	syncer, err := synchronizer.NewSynchronizer(ft.cfg, ft.client, ft.blocks, store, ft.replayer.Metrics(), shutdown)
	if err != nil {
		return err
	}
	ft.synchronizer = syncer
	return ft.synchronizer.Start()
}

func (ft *FlowTrace) Stop(ctx context.Context) error {
	var result error
	if ft.synchronizer != nil {
		if err := ft.synchronizer.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close synchronizer: %w", err))
		}
	}
	if err := ft.Close(); err != nil {
		result = errors.Join(result, err)
	}
	ft.stopped.Store(true)
	log.Info("flowtrace stopped")
	return result
}

func (ft *FlowTrace) Stopped() bool {
	return ft.stopped.Load()
}

// Close releases the node connection and the database.
func (ft *FlowTrace) Close() error {
	ft.client.Close()
	if ft.db != nil {
		if err := ft.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
