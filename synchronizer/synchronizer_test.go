package synchronizer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/flowtrace/config"
	"github.com/DQYXACML/flowtrace/synchronizer/node"
	"github.com/DQYXACML/flowtrace/tracing"
)

type mockEthClient struct {
	mock.Mock
	node.EthClient
}

func (m *mockEthClient) BlockHeaderByNumber(n *big.Int) (*types.Header, error) {
	args := m.Called(n)
	h, _ := args.Get(0).(*types.Header)
	return h, args.Error(1)
}

func (m *mockEthClient) BlockHeadersByRange(start, end *big.Int, chainID uint) ([]types.Header, error) {
	args := m.Called(start, end, chainID)
	h, _ := args.Get(0).([]types.Header)
	return h, args.Error(1)
}

func (m *mockEthClient) BlockTxHashes(n *big.Int) ([]common.Hash, error) {
	args := m.Called(n)
	h, _ := args.Get(0).([]common.Hash)
	return h, args.Error(1)
}

type fakeReplayer struct {
	mu      sync.Mutex
	seen    []common.Hash
	failing map[common.Hash]error
}

func (f *fakeReplayer) Replay(_ context.Context, hash common.Hash) (*tracing.TxTrace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, hash)
	if err := f.failing[hash]; err != nil {
		return nil, err
	}
	return &tracing.TxTrace{TxHash: hash}, nil
}

type memHeaderStore struct {
	latest   *types.Header
	stored   []types.Header
	txCounts []int
}

func (s *memHeaderStore) LatestBlockHeader() (*types.Header, error) { return s.latest, nil }

func (s *memHeaderStore) StoreBlockHeaders(headers []types.Header, txCounts []int) error {
	s.stored = append(s.stored, headers...)
	s.txCounts = append(s.txCounts, txCounts...)
	return nil
}

func hashes(n int, seed byte) []common.Hash {
	out := make([]common.Hash, n)
	for i := range out {
		out[i] = common.BytesToHash([]byte{seed, byte(i + 1)})
	}
	return out
}

func TestReplayBlock(t *testing.T) {
	txs := hashes(6, 0x10)
	client := new(mockEthClient)
	client.On("BlockTxHashes", big.NewInt(7)).Return(txs, nil).Once()

	replayer := &fakeReplayer{failing: map[common.Hash]error{txs[2]: errors.New("prestate unavailable")}}
	res, err := NewBlockReplayer(client, replayer, 3).ReplayBlock(context.Background(), 7)
	require.NoError(t, err)

	assert.EqualValues(t, 7, res.Number)
	assert.Equal(t, 6, res.TxCount)
	assert.Equal(t, 5, res.Replayed)
	assert.Equal(t, []common.Hash{txs[2]}, res.Failed)
	assert.ElementsMatch(t, txs, replayer.seen)
}

func TestReplayBlockCancelled(t *testing.T) {
	txs := hashes(2, 0x20)
	client := new(mockEthClient)
	client.On("BlockTxHashes", mock.Anything).Return(txs, nil)

	replayer := &fakeReplayer{failing: map[common.Hash]error{txs[0]: context.Canceled, txs[1]: context.Canceled}}
	_, err := NewBlockReplayer(client, replayer, 1).ReplayBlock(context.Background(), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayBlocks(t *testing.T) {
	client := new(mockEthClient)
	client.On("BlockTxHashes", big.NewInt(10)).Return(hashes(2, 0x0a), nil).Once()
	client.On("BlockTxHashes", big.NewInt(11)).Return([]common.Hash{}, nil).Once()
	client.On("BlockTxHashes", big.NewInt(12)).Return(hashes(1, 0x0c), nil).Once()

	replayer := &fakeReplayer{}
	results, err := NewBlockReplayer(client, replayer, 2).ReplayBlocks(context.Background(), 10, 12)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{2, 0, 1}, []int{results[0].Replayed, results[1].Replayed, results[2].Replayed})
	assert.Len(t, replayer.seen, 3)
	client.AssertExpectations(t)

	_, err = NewBlockReplayer(client, replayer, 2).ReplayBlocks(context.Background(), 5, 4)
	assert.Error(t, err)
}

func TestReplayBlocksStopsOnListingError(t *testing.T) {
	client := new(mockEthClient)
	client.On("BlockTxHashes", big.NewInt(1)).Return(hashes(1, 0x01), nil).Once()
	client.On("BlockTxHashes", big.NewInt(2)).Return(nil, errors.New("connection refused")).Once()

	results, err := NewBlockReplayer(client, &fakeReplayer{}, 1).ReplayBlocks(context.Background(), 1, 3)
	assert.ErrorContains(t, err, "block 2")
	assert.Len(t, results, 1)
}

// linkedHeaders returns headers numbered start.. with valid parent links from parent.
func linkedHeaders(parent *types.Header, n int) []types.Header {
	out := make([]types.Header, n)
	prev := parent
	for i := range out {
		out[i] = types.Header{
			Number:     new(big.Int).Add(prev.Number, big.NewInt(1)),
			ParentHash: prev.Hash(),
			Difficulty: big.NewInt(0),
		}
		prev = &out[i]
	}
	return out
}

func TestSynchronizerTick(t *testing.T) {
	stored := &types.Header{Number: big.NewInt(99), Difficulty: big.NewInt(0)}
	next := linkedHeaders(stored, 6)
	head := next[5]

	client := new(mockEthClient)
	client.On("BlockHeaderByNumber", (*big.Int)(nil)).Return(&head, nil)
	client.On("BlockHeadersByRange", big.NewInt(100), big.NewInt(102), uint(1)).Return(next[0:3], nil).Once()
	client.On("BlockTxHashes", big.NewInt(100)).Return(hashes(2, 0x64), nil).Once()
	client.On("BlockTxHashes", big.NewInt(101)).Return([]common.Hash{}, nil).Once()
	client.On("BlockTxHashes", big.NewInt(102)).Return(hashes(1, 0x66), nil).Once()

	cfg := &config.Config{Chain: config.ChainConfig{
		ChainId:          1,
		Confirmations:    2,
		BlockStep:        3,
		MainLoopInterval: time.Second,
	}}
	store := &memHeaderStore{latest: stored}
	replayer := &fakeReplayer{}
	syncer, err := NewSynchronizer(cfg, client, NewBlockReplayer(client, replayer, 2), store, nil, func(error) {})
	require.NoError(t, err)

	require.NoError(t, syncer.tick())
	assert.Len(t, replayer.seen, 3)
	require.Len(t, store.stored, 3)
	assert.EqualValues(t, 102, store.stored[2].Number.Int64())
	assert.Equal(t, []int{2, 0, 1}, store.txCounts)
	assert.Empty(t, syncer.headers)

	// head 105 minus two confirmations: 103 is next, nothing else is fetched yet
	client.On("BlockHeadersByRange", big.NewInt(103), big.NewInt(103), uint(1)).Return(next[3:4], nil).Once()
	client.On("BlockTxHashes", big.NewInt(103)).Return(nil, errors.New("timeout")).Once()
	assert.Error(t, syncer.tick())
	assert.Len(t, syncer.headers, 1, "failed batch is kept for the next round")

	client.On("BlockTxHashes", big.NewInt(103)).Return([]common.Hash{}, nil).Once()
	require.NoError(t, syncer.tick())
	assert.Empty(t, syncer.headers)
	assert.Len(t, store.stored, 4)
	client.AssertExpectations(t)
}

func TestSynchronizerStartClose(t *testing.T) {
	client := new(mockEthClient)
	client.On("BlockHeaderByNumber", mock.Anything).Return(&types.Header{Number: big.NewInt(0), Difficulty: big.NewInt(0)}, nil)
	client.On("BlockHeadersByRange", mock.Anything, mock.Anything, mock.Anything).Return([]types.Header{}, nil)

	cfg := &config.Config{Chain: config.ChainConfig{ChainId: 1, BlockStep: 1, MainLoopInterval: 10 * time.Millisecond}}
	syncer, err := NewSynchronizer(cfg, client, NewBlockReplayer(client, &fakeReplayer{}, 1), nil, nil, func(error) {})
	require.NoError(t, err)

	require.NoError(t, syncer.Start())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, syncer.Close())
}
