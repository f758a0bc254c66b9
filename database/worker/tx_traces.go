package worker

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DQYXACML/flowtrace/database/utils"
	"github.com/DQYXACML/flowtrace/tracing"
)

// TxTrace is the summary row of one replayed transaction.
type TxTrace struct {
	GUID             uuid.UUID        `gorm:"primaryKey" json:"guid"`
	Hash             common.Hash      `gorm:"column:hash;serializer:bytes" json:"hash"`
	BlockNumber      *big.Int         `gorm:"serializer:u256;column:block_number" json:"block_number"`
	Reverted         bool             `json:"reverted"`
	GasUsed          uint64           `json:"gas_used"`
	FrameCount       int              `json:"frame_count"`
	OpcodeCount      int              `json:"opcode_count"`
	MoneyFlowCount   int              `json:"money_flow_count"`
	FailureCount     int              `json:"failure_count"`
	InvokedContracts []common.Address `gorm:"serializer:json" json:"invoked_contracts"`
	Timestamp        uint64           `json:"timestamp"`
}

func (TxTrace) TableName() string {
	return "tx_traces"
}

// CallFrame is one frame of a replayed transaction.
type CallFrame struct {
	GUID           uuid.UUID             `gorm:"primaryKey" json:"guid"`
	TxHash         common.Hash           `gorm:"column:tx_hash;serializer:bytes" json:"tx_hash"`
	FrameIndex     int                   `json:"frame_index"`
	Kind           string                `json:"kind"`
	FromAddress    *common.Address       `gorm:"serializer:bytes" json:"from_address"`
	ToAddress      *common.Address       `gorm:"serializer:bytes" json:"to_address"`
	CreatedAddress *common.Address       `gorm:"serializer:bytes" json:"created_address"`
	Beneficiary    *common.Address       `gorm:"serializer:bytes" json:"beneficiary"`
	Input          utils.Bytes           `gorm:"serializer:bytes" json:"input"`
	Output         utils.Bytes           `gorm:"serializer:bytes" json:"output"`
	Value          *big.Int              `gorm:"serializer:u256" json:"value"`
	OpcodeCount    int                   `json:"opcode_count"`
	Opcodes        []tracing.OpcodeEvent `gorm:"serializer:json" json:"opcodes"`
}

func (CallFrame) TableName() string {
	return "call_frames"
}

// MoneyFlow is one ledger entry. Amount and TokenID are normalized; RawTokenID keeps the
// value recorded at decode time.
type MoneyFlow struct {
	GUID        uuid.UUID         `gorm:"primaryKey" json:"guid"`
	TxHash      common.Hash       `gorm:"column:tx_hash;serializer:bytes" json:"tx_hash"`
	FlowIndex   int               `json:"flow_index"`
	FromAddress string            `json:"from_address"`
	ToAddress   string            `json:"to_address"`
	Token       string            `json:"token"`
	Amount      string            `json:"amount"`
	TokenID     string            `json:"token_id"`
	RawTokenID  string            `json:"raw_token_id"`
	CallStack   tracing.CallStack `gorm:"serializer:json" json:"call_stack"`
}

func (MoneyFlow) TableName() string {
	return "money_flows"
}

// TxTraceRows is everything stored for one transaction.
type TxTraceRows struct {
	Trace      TxTrace
	Frames     []CallFrame
	MoneyFlows []MoneyFlow
}

// NewTxTraceRows converts a replay result into rows.
func NewTxTraceRows(trace *tracing.TxTrace) (*TxTraceRows, error) {
	normalized, err := tracing.Normalize(trace.MoneyFlows)
	if err != nil {
		return nil, fmt.Errorf("tx %s: %w", trace.TxHash, err)
	}

	rows := &TxTraceRows{
		Trace: TxTrace{
			GUID:             uuid.New(),
			Hash:             trace.TxHash,
			BlockNumber:      new(big.Int).SetUint64(trace.BlockNumber),
			Reverted:         trace.Reverted,
			GasUsed:          trace.GasUsed,
			FrameCount:       len(trace.Frames),
			OpcodeCount:      trace.OpcodeCount(),
			MoneyFlowCount:   len(trace.MoneyFlows),
			FailureCount:     len(trace.Failures),
			InvokedContracts: trace.InvokedContracts,
			Timestamp:        uint64(time.Now().Unix()),
		},
		Frames:     make([]CallFrame, 0, len(trace.Frames)),
		MoneyFlows: make([]MoneyFlow, 0, len(normalized)),
	}

	for _, f := range trace.Frames {
		rows.Frames = append(rows.Frames, CallFrame{
			GUID:           uuid.New(),
			TxHash:         trace.TxHash,
			FrameIndex:     f.Index,
			Kind:           string(f.Kind),
			FromAddress:    f.From,
			ToAddress:      f.To,
			CreatedAddress: f.CreatedAddress,
			Beneficiary:    f.Beneficiary,
			Input:          utils.Bytes(f.Input),
			Output:         utils.Bytes(f.Output),
			Value:          f.Value,
			OpcodeCount:    len(f.Opcodes),
			Opcodes:        f.Opcodes,
		})
	}
	for i, m := range normalized {
		rows.MoneyFlows = append(rows.MoneyFlows, MoneyFlow{
			GUID:        uuid.New(),
			TxHash:      trace.TxHash,
			FlowIndex:   m.Index,
			FromAddress: m.From,
			ToAddress:   m.To,
			Token:       m.Token,
			Amount:      m.Amount,
			TokenID:     m.TokenID,
			RawTokenID:  trace.MoneyFlows[i].TokenID,
			CallStack:   m.CallStack,
		})
	}
	return rows, nil
}

type TxTracesView interface {
	QueryTxTrace(txHash common.Hash) (*TxTrace, error)
	QueryFrames(txHash common.Hash) ([]CallFrame, error)
	QueryMoneyFlows(txHash common.Hash) ([]MoneyFlow, error)
	QueryMoneyFlowsByToken(token common.Address) ([]MoneyFlow, error)
}

type TxTracesDB interface {
	TxTracesView

	StoreTxTraceRows(rows *TxTraceRows) error
	DeleteTxTrace(txHash common.Hash) error
}

type txTracesDB struct {
	gorm *gorm.DB
}

func NewTxTracesDB(db *gorm.DB) TxTracesDB {
	return &txTracesDB{gorm: db}
}

func (t *txTracesDB) StoreTxTraceRows(rows *TxTraceRows) error {
	if err := t.gorm.Create(&rows.Trace).Error; err != nil {
		return err
	}
	if len(rows.Frames) > 0 {
		if err := t.gorm.CreateInBatches(&rows.Frames, len(rows.Frames)).Error; err != nil {
			return err
		}
	}
	if len(rows.MoneyFlows) > 0 {
		if err := t.gorm.CreateInBatches(&rows.MoneyFlows, len(rows.MoneyFlows)).Error; err != nil {
			return err
		}
	}
	return nil
}

// DeleteTxTrace removes an earlier replay of the same transaction.
func (t *txTracesDB) DeleteTxTrace(txHash common.Hash) error {
	hash := txHash.Hex()
	if err := t.gorm.Where("tx_hash = ?", hash).Delete(&MoneyFlow{}).Error; err != nil {
		return err
	}
	if err := t.gorm.Where("tx_hash = ?", hash).Delete(&CallFrame{}).Error; err != nil {
		return err
	}
	return t.gorm.Where("hash = ?", hash).Delete(&TxTrace{}).Error
}

func (t *txTracesDB) QueryTxTrace(txHash common.Hash) (*TxTrace, error) {
	var trace TxTrace
	err := t.gorm.Where("hash = ?", txHash.Hex()).Take(&trace).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trace, nil
}

func (t *txTracesDB) QueryFrames(txHash common.Hash) ([]CallFrame, error) {
	var frames []CallFrame
	err := t.gorm.Where("tx_hash = ?", txHash.Hex()).Order("frame_index ASC").Find(&frames).Error
	if err != nil {
		return nil, err
	}
	return frames, nil
}

func (t *txTracesDB) QueryMoneyFlows(txHash common.Hash) ([]MoneyFlow, error) {
	var flows []MoneyFlow
	err := t.gorm.Where("tx_hash = ?", txHash.Hex()).Order("flow_index ASC").Find(&flows).Error
	if err != nil {
		return nil, err
	}
	return flows, nil
}

// QueryMoneyFlowsByToken lists every recorded movement of one token contract.
func (t *txTracesDB) QueryMoneyFlowsByToken(token common.Address) ([]MoneyFlow, error) {
	var flows []MoneyFlow
	err := t.gorm.Where("token = ?", tracing.FormatAddress(token)).Order("tx_hash, flow_index ASC").Find(&flows).Error
	if err != nil {
		return nil, err
	}
	return flows, nil
}
