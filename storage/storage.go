package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	common2 "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/flowtrace/tracing"
)

// FileSink writes each trace to <dir>/<txhash>.json.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the file a trace of txHash is written to.
func (s *FileSink) Path(txHash common2.Hash) string {
	return filepath.Join(s.dir, strings.ToLower(txHash.Hex())+".json")
}

// StoreTxTrace writes the trace through a temporary file so readers never see a partial one.
func (s *FileSink) StoreTxTrace(trace *tracing.TxTrace) error {
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trace of %s: %w", trace.TxHash, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".trace-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	path := s.Path(trace.TxHash)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.Debug("Wrote trace file", "tx", trace.TxHash, "path", path, "bytes", len(data))
	return nil
}

// ReadTxTrace loads a trace written by StoreTxTrace.
func ReadTxTrace(path string) (*tracing.TxTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var trace tracing.TxTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to decode trace file %s: %w", path, err)
	}
	return &trace, nil
}
