package common

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"

	"github.com/DQYXACML/flowtrace/database/utils"
)

// BlockHeader is a block the follower has fully replayed.
type BlockHeader struct {
	Hash       common.Hash `gorm:"primaryKey;serializer:bytes"`
	ParentHash common.Hash `gorm:"serializer:bytes"`
	Number     *big.Int    `gorm:"serializer:u256"`
	Timestamp  uint64
	TxCount    int

	RLPHeader *utils.RLPHeader `gorm:"serializer:rlp;column:rlp_bytes"`
}

func (BlockHeader) TableName() string {
	return "block_headers"
}

// NewBlockHeader converts a chain header into its row.
func NewBlockHeader(header *types.Header, txCount int) BlockHeader {
	return BlockHeader{
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Number:     header.Number,
		Timestamp:  header.Time,
		TxCount:    txCount,
		RLPHeader:  (*utils.RLPHeader)(header),
	}
}

type BlocksView interface {
	LatestBlockHeader() (*types.Header, error)
	BlockHeaderByNumber(*big.Int) (*types.Header, error)
}

type BlocksDB interface {
	BlocksView

	StoreBlockHeaders([]BlockHeader) error
}

type blocksDB struct {
	gorm *gorm.DB
}

func NewBlocksDB(db *gorm.DB) BlocksDB {
	return &blocksDB{gorm: db}
}

func (db *blocksDB) StoreBlockHeaders(headers []BlockHeader) error {
	if len(headers) == 0 {
		return nil
	}
	result := db.gorm.CreateInBatches(&headers, len(headers))
	return result.Error
}

// LatestBlockHeader returns nil when nothing has been replayed yet.
func (db *blocksDB) LatestBlockHeader() (*types.Header, error) {
	var header BlockHeader
	result := db.gorm.Order("number DESC").Take(&header)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return header.RLPHeader.Header(), nil
}

func (db *blocksDB) BlockHeaderByNumber(number *big.Int) (*types.Header, error) {
	var header BlockHeader
	result := db.gorm.Where("number = ?", number.String()).Take(&header)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return header.RLPHeader.Header(), nil
}
