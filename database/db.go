package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DQYXACML/flowtrace/config"
	"github.com/DQYXACML/flowtrace/database/common"
	_ "github.com/DQYXACML/flowtrace/database/utils/serializers"
	"github.com/DQYXACML/flowtrace/database/worker"
	"github.com/DQYXACML/flowtrace/tracing"
)

type DB struct {
	gorm *gorm.DB

	Blocks   common.BlocksDB
	TxTraces worker.TxTracesDB
}

func NewDB(ctx context.Context, dbConfig config.DBConfig) (*DB, error) {
	gormConfig := gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        3_000,
	}
	gorm, err := gorm.Open(postgres.Open(dbConfig.DSN()), &gormConfig)
	if err != nil {
		return nil, err
	}

	if sqlDB, err := gorm.DB(); err == nil {
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to reach database")
		}
	}

	return newDB(gorm), nil
}

func newDB(gorm *gorm.DB) *DB {
	return &DB{
		gorm:     gorm,
		Blocks:   common.NewBlocksDB(gorm),
		TxTraces: worker.NewTxTracesDB(gorm),
	}
}

func (db *DB) Transaction(fn func(db *DB) error) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		return fn(newDB(tx))
	})
}

// StoreTxTrace replaces any earlier replay of the same transaction.
func (db *DB) StoreTxTrace(trace *tracing.TxTrace) error {
	rows, err := worker.NewTxTraceRows(trace)
	if err != nil {
		return errors.Wrap(err, "failed to convert trace")
	}
	err = db.Transaction(func(tx *DB) error {
		if err := tx.TxTraces.DeleteTxTrace(trace.TxHash); err != nil {
			return err
		}
		return tx.TxTraces.StoreTxTraceRows(rows)
	})
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to store trace of %s", trace.TxHash))
	}
	log.Debug("Stored trace", "tx", trace.TxHash, "frames", len(rows.Frames), "moneyFlows", len(rows.MoneyFlows))
	return nil
}

// LatestBlockHeader is the last block the follower finished.
func (db *DB) LatestBlockHeader() (*types.Header, error) {
	return db.Blocks.LatestBlockHeader()
}

// StoreBlockHeaders marks headers as fully replayed.
func (db *DB) StoreBlockHeaders(headers []types.Header, txCounts []int) error {
	rows := make([]common.BlockHeader, 0, len(headers))
	for i := range headers {
		rows = append(rows, common.NewBlockHeader(&headers[i], txCounts[i]))
	}
	return db.Transaction(func(tx *DB) error {
		return tx.Blocks.StoreBlockHeaders(rows)
	})
}

func (db *DB) Close() error {
	sql, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

// ExecuteSQLMigration runs every file under migrationsFolder in lexical order.
func (db *DB) ExecuteSQLMigration(migrationsFolder string) error {
	var files []string
	err := filepath.Walk(migrationsFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Failed to process migration file: %s", path))
		}
		if info.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		fileContent, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.Wrap(readErr, fmt.Sprintf("Error reading SQL file: %s", path))
		}

		execErr := db.gorm.Exec(string(fileContent)).Error
		if execErr != nil {
			return errors.Wrap(execErr, fmt.Sprintf("Error executing SQL script: %s", path))
		}
		log.Info("Applied migration", "file", filepath.Base(path))
	}
	return nil
}
