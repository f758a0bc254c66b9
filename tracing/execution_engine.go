package tracing

import (
	"github.com/DQYXACML/flowtrace/tracing/utils"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/log"
)

// ExecutionEngine 执行引擎，负责在本地状态上重放交易
type ExecutionEngine struct {
	stateManager *StateManager
}

// NewExecutionEngine 创建执行引擎
func NewExecutionEngine(stateManager *StateManager) *ExecutionEngine {
	if stateManager == nil {
		stateManager = NewStateManager()
	}
	return &ExecutionEngine{
		stateManager: stateManager,
	}
}

// Execute replays ec.Transaction on top of its prestate with a fresh FlowTracer.
// A transaction that reverts still yields a trace; an event sequence the tracer
// cannot reconcile fails the replay.
func (e *ExecutionEngine) Execute(ec *ExecutionContext) (*TxTrace, error) {
	stateDB, err := e.stateManager.CreateStateFromPrestate(ec.Prestate)
	if err != nil {
		return nil, utils.NewReplayError(utils.ErrorTypeExecution, "failed to create state", ec.TxHash, err)
	}

	tracer := NewFlowTracer(ec.TxHash)
	evm := e.stateManager.CreateEVM(stateDB, ec.Block, ec.ChainID, tracer.Hooks())

	msg, err := core.TransactionToMessage(ec.Transaction, ec.Signer, ec.Block.BaseFee)
	if err != nil {
		return nil, utils.NewReplayError(utils.ErrorTypePrecondition, "failed to convert transaction", ec.TxHash, err)
	}
	evm.SetTxContext(core.NewEVMTxContext(msg))

	gasPool := new(core.GasPool).AddGas(ec.Block.GasLimit)
	result, err := core.ApplyMessage(evm, msg, gasPool)
	if err != nil {
		// consensus errors: nonce, balance, intrinsic gas
		return nil, utils.NewReplayError(utils.ErrorTypeExecution, "transaction not applicable to prestate", ec.TxHash, err)
	}
	if err := tracer.Err(); err != nil {
		return nil, utils.NewReplayError(utils.ErrorTypeExecution, "malformed execution events", ec.TxHash, err)
	}

	trace := tracer.Result()
	trace.BlockNumber = ec.Block.Number.Uint64()
	trace.Reverted = result.Failed()
	trace.GasUsed = result.UsedGas

	if result.Failed() {
		log.Info("Replayed transaction reverted", "tx", ec.TxHash, "err", result.Err)
	}
	log.Debug("Replayed transaction", "tx", ec.TxHash, "frames", len(trace.Frames),
		"opcodes", trace.OpcodeCount(), "moneyFlows", len(trace.MoneyFlows), "gasUsed", trace.GasUsed)
	return trace, nil
}
