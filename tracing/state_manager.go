package tracing

import (
	"math/big"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/ethereum/go-ethereum/triedb/hashdb"
	"github.com/holiman/uint256"
)

const cleanCacheSize = 16 * 1024 * 1024

// StateManager 管理状态数据库和EVM创建
type StateManager struct{}

// NewStateManager 创建状态管理器
func NewStateManager() *StateManager {
	return &StateManager{}
}

// CreateStateFromPrestate 从预状态创建内存状态数据库
func (sm *StateManager) CreateStateFromPrestate(prestate PrestateResult) (*state.StateDB, error) {
	memDb := rawdb.NewMemoryDatabase()

	trieDB := triedb.NewDatabase(memDb, &triedb.Config{
		Preimages: false,
		IsVerkle:  false,
		HashDB: &hashdb.Config{
			CleanCacheSize: cleanCacheSize,
		},
	})

	stateDb := state.NewDatabase(trieDB, nil)
	stateDB, err := state.New(gethCommon.Hash{}, stateDb)
	if err != nil {
		return nil, err
	}

	for addr, account := range prestate {
		if account == nil {
			continue
		}
		if !stateDB.Exist(addr) {
			stateDB.CreateAccount(addr)
		}

		if account.Balance != nil {
			balance := (*big.Int)(account.Balance)
			stateDB.SetBalance(addr, uint256.MustFromBig(balance), tracing.BalanceChangeUnspecified)
		}

		if account.Nonce > 0 {
			stateDB.SetNonce(addr, account.Nonce, 0)
		}

		if len(account.Code) > 0 {
			stateDB.SetCode(addr, account.Code)
		}

		for key, value := range account.Storage {
			stateDB.SetState(addr, key, value)
		}
	}

	return stateDB, nil
}

// CreateEVM builds an EVM for replaying one transaction of the given block. Every
// event of the execution, logs included, is delivered to hooks.
func (sm *StateManager) CreateEVM(stateDB *state.StateDB, header *types.Header, chainID *big.Int, hooks *tracing.Hooks) *vm.EVM {
	chainConfig, forced := sm.ChainConfigFor(chainID)

	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     func(uint64) gethCommon.Hash { return gethCommon.Hash{} },
		Coinbase:    header.Coinbase,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  header.Difficulty,
		GasLimit:    header.GasLimit,
		BaseFee:     header.BaseFee,
		// TODO: derive from header.ExcessBlobGas once chains without a blob schedule are handled
		BlobBaseFee: new(big.Int),
	}
	// Random marks the block as post-merge, without it Shanghai (PUSH0) stays disabled.
	if forced || header.Difficulty == nil || header.Difficulty.Sign() == 0 {
		random := header.MixDigest
		blockCtx.Random = &random
	}

	vmConfig := vm.Config{
		NoBaseFee: false,
		Tracer:    hooks,
	}

	var db vm.StateDB = stateDB
	if hooks != nil {
		// Logs only reach OnLog through the hooked state wrapper.
		db = state.NewHookedState(stateDB, hooks)
	}
	return vm.NewEVM(blockCtx, db, chainConfig, vmConfig)
}

// ChainConfigFor returns the mainnet config for chain 1 and a config with every
// fork active from genesis for everything else. forced reports the latter.
func (sm *StateManager) ChainConfigFor(chainID *big.Int) (*params.ChainConfig, bool) {
	if chainID != nil && chainID.Cmp(params.MainnetChainConfig.ChainID) == 0 {
		return params.MainnetChainConfig, false
	}
	return sm.CreateChainConfigWithAllForks(chainID), true
}

// CreateChainConfigWithAllForks 创建包含所有硬分叉的链配置
func (sm *StateManager) CreateChainConfigWithAllForks(chainID *big.Int) *params.ChainConfig {
	if chainID == nil {
		chainID = new(big.Int)
	}
	genesisTime := uint64(0)
	config := &params.ChainConfig{
		ChainID:                 new(big.Int).Set(chainID),
		HomesteadBlock:          big.NewInt(0),
		DAOForkBlock:            nil,
		DAOForkSupport:          false,
		EIP150Block:             big.NewInt(0),
		EIP155Block:             big.NewInt(0),
		EIP158Block:             big.NewInt(0),
		ByzantiumBlock:          big.NewInt(0),
		ConstantinopleBlock:     big.NewInt(0),
		PetersburgBlock:         big.NewInt(0),
		IstanbulBlock:           big.NewInt(0),
		MuirGlacierBlock:        big.NewInt(0),
		BerlinBlock:             big.NewInt(0),
		LondonBlock:             big.NewInt(0),
		ArrowGlacierBlock:       big.NewInt(0),
		GrayGlacierBlock:        big.NewInt(0),
		MergeNetsplitBlock:      big.NewInt(0),
		TerminalTotalDifficulty: nil,
		Ethash:                  new(params.EthashConfig),
		ShanghaiTime:            &genesisTime,
		CancunTime:              &genesisTime,
	}
	log.Debug("Created chain config with all forks", "chainId", chainID)
	return config
}
