package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/DQYXACML/flowtrace/common/tasks"
	"github.com/DQYXACML/flowtrace/config"
	"github.com/DQYXACML/flowtrace/synchronizer/node"
	"github.com/DQYXACML/flowtrace/tracing"
	"github.com/DQYXACML/flowtrace/tracing/utils"
)

// Replayer replays one transaction.
type Replayer interface {
	Replay(ctx context.Context, txHash common.Hash) (*tracing.TxTrace, error)
}

// HeaderStore remembers which blocks have been fully replayed.
type HeaderStore interface {
	LatestBlockHeader() (*types.Header, error)
	StoreBlockHeaders(headers []types.Header, txCounts []int) error
}

// BlockResult summarizes the replay of one block.
type BlockResult struct {
	Number   uint64
	TxCount  int
	Replayed int
	Failed   []common.Hash
}

// BlockReplayer replays every transaction of a block, several at a time.
type BlockReplayer struct {
	client   node.EthClient
	replayer Replayer
	workers  int
}

func NewBlockReplayer(client node.EthClient, replayer Replayer, workers int) *BlockReplayer {
	if workers < 1 {
		workers = 1
	}
	return &BlockReplayer{client: client, replayer: replayer, workers: workers}
}

// ReplayBlock replays the transactions of block number. A transaction that fails to
// replay is reported in the result and does not stop the others.
func (b *BlockReplayer) ReplayBlock(ctx context.Context, number uint64) (BlockResult, error) {
	result := BlockResult{Number: number}
	hashes, err := b.client.BlockTxHashes(new(big.Int).SetUint64(number))
	if err != nil {
		return result, fmt.Errorf("failed to list transactions of block %d: %w", number, err)
	}
	result.TxCount = len(hashes)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, hash := range hashes {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, err := b.replayer.Replay(gctx, hash)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				result.Failed = append(result.Failed, hash)
				return nil
			}
			result.Replayed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if len(result.Failed) > 0 {
		log.Warn("Some transactions failed to replay", "block", number, "failed", len(result.Failed), "txs", result.TxCount)
	}
	return result, nil
}

// ReplayBlocks replays blocks from..to inclusive, one block after the other.
func (b *BlockReplayer) ReplayBlocks(ctx context.Context, from, to uint64) ([]BlockResult, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range %d..%d", from, to)
	}
	results := make([]BlockResult, 0, to-from+1)
	for number := from; number <= to; number++ {
		res, err := b.ReplayBlock(ctx, number)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		log.Info("Replayed block", "number", number, "txs", res.TxCount, "failed", len(res.Failed))
	}
	return results, nil
}

// Synchronizer follows the chain head and replays every confirmed block.
type Synchronizer struct {
	blocks          *BlockReplayer
	store           HeaderStore
	metrics         *utils.MetricsCollector
	chainCfg        *config.ChainConfig
	headerTraversal *node.HeaderTraversal

	// headers not yet replayed, retried on the next tick
	headers []types.Header

	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
}

// NewSynchronizer resumes after the last stored block, or at the configured starting
// height. store and metrics may be nil.
func NewSynchronizer(cfg *config.Config, client node.EthClient, blocks *BlockReplayer, store HeaderStore,
	metrics *utils.MetricsCollector, shutdown context.CancelCauseFunc) (*Synchronizer, error) {
	var fromHeader *types.Header
	if store != nil {
		latest, err := store.LatestBlockHeader()
		if err != nil {
			log.Error("query latest block header fail", "err", err)
			return nil, err
		}
		if latest != nil {
			fromHeader = latest
			log.Info("Resuming after stored header", "number", latest.Number)
		}
	}
	if fromHeader == nil && cfg.Chain.StartingHeight > 0 {
		// the traversal starts after fromHeader, so StartingHeight itself is replayed
		header, err := client.BlockHeaderByNumber(new(big.Int).SetUint64(cfg.Chain.StartingHeight - 1))
		if err != nil {
			log.Error("get block from chain fail", "err", err)
			return nil, err
		}
		fromHeader = header
		log.Info("Starting from configured height", "number", cfg.Chain.StartingHeight)
	}
	if fromHeader == nil {
		log.Info("No replay state, starting at genesis")
	}

	resCtx, resCancel := context.WithCancel(context.Background())
	return &Synchronizer{
		blocks:   blocks,
		store:    store,
		metrics:  metrics,
		chainCfg: &cfg.Chain,
		headerTraversal: node.NewHeaderTraversal(client, fromHeader,
			new(big.Int).SetUint64(cfg.Chain.Confirmations), cfg.Chain.ChainId),
		resourceCtx:    resCtx,
		resourceCancel: resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			shutdown(fmt.Errorf("critical error in synchronizer: %w", err))
		}},
	}, nil
}

func (syncer *Synchronizer) Start() error {
	log.Info("Starting synchronizer", "interval", syncer.chainCfg.MainLoopInterval, "blockStep", syncer.chainCfg.BlockStep)
	ticker := time.NewTicker(syncer.chainCfg.MainLoopInterval)
	syncer.tasks.Go(func() error {
		defer ticker.Stop()
		for {
			select {
			case <-syncer.resourceCtx.Done():
				return nil
			case <-ticker.C:
				if err := syncer.tick(); err != nil && syncer.resourceCtx.Err() == nil {
					log.Error("Synchronizer round failed", "err", err)
				}
			}
		}
	})
	return nil
}

func (syncer *Synchronizer) Close() error {
	log.Info("Closing synchronizer")
	syncer.resourceCancel()
	return syncer.tasks.Wait()
}

// tick fetches the next batch unless an earlier one is still pending, then replays it.
func (syncer *Synchronizer) tick() error {
	if len(syncer.headers) == 0 {
		newHeaders, err := syncer.headerTraversal.NextHeaders(syncer.chainCfg.BlockStep)
		if err != nil {
			return fmt.Errorf("error querying for headers: %w", err)
		} else if len(newHeaders) == 0 {
			log.Debug("No new confirmed header, synced to head")
			return nil
		}
		syncer.headers = newHeaders
	}
	if latest := syncer.headerTraversal.LatestHeader(); latest != nil {
		log.Debug("Chain head", "number", latest.Number)
	}

	if err := syncer.processBatch(syncer.headers); err != nil {
		return err
	}
	syncer.headers = nil
	return nil
}

func (syncer *Synchronizer) processBatch(headers []types.Header) error {
	firstHeader, lastHeader := headers[0], headers[len(headers)-1]
	log.Info("Replay batch", "size", len(headers), "startBlock", firstHeader.Number, "endBlock", lastHeader.Number)

	results := make([]BlockResult, 0, len(headers))
	for i := range headers {
		res, err := syncer.blocks.ReplayBlock(syncer.resourceCtx, headers[i].Number.Uint64())
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	failed := lo.FlatMap(results, func(r BlockResult, _ int) []common.Hash { return r.Failed })
	if len(failed) > 0 {
		log.Warn("Transactions left unreplayed in batch", "count", len(failed), "txs", failed)
	}

	if syncer.store != nil {
		txCounts := lo.Map(results, func(r BlockResult, _ int) int { return r.TxCount })
		if err := syncer.store.StoreBlockHeaders(headers, txCounts); err != nil {
			log.Error("StoreBlockHeaders fail", "err", err)
			return err
		}
	}

	if syncer.metrics != nil {
		log.Info("Replay metrics", syncer.metrics.Snapshot().LogContext()...)
	}
	return nil
}
