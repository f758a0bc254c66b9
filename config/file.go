package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DQYXACML/flowtrace/flags"
	"gopkg.in/yaml.v3"
)

// ConfigFile 配置文件结构
type ConfigFile struct {
	Default  Settings            `json:"default" yaml:"default"`
	Profiles map[string]Settings `json:"profiles" yaml:"profiles"`
}

// Settings mirrors the command line flags. Zero values mean "not set".
type Settings struct {
	RPCURL           string        `json:"rpcURL" yaml:"rpcURL"`
	ChainID          uint          `json:"chainId" yaml:"chainId"`
	StartingHeight   uint64        `json:"startingHeight" yaml:"startingHeight"`
	Confirmations    uint64        `json:"confirmations" yaml:"confirmations"`
	BlockStep        uint64        `json:"blockStep" yaml:"blockStep"`
	MainLoopInterval time.Duration `json:"mainLoopInterval" yaml:"mainLoopInterval"`

	TxHashes  []string `json:"txHashes" yaml:"txHashes"`
	FromBlock uint64   `json:"fromBlock" yaml:"fromBlock"`
	ToBlock   uint64   `json:"toBlock" yaml:"toBlock"`
	Workers   int      `json:"workers" yaml:"workers"`
	OutDir    string   `json:"outDir" yaml:"outDir"`
	Verify    bool     `json:"verify" yaml:"verify"`
	StoreDB   bool     `json:"storeDB" yaml:"storeDB"`

	DBConfig DBConfig `json:"dbConfig" yaml:"dbConfig"`
	LogLevel string   `json:"logLevel" yaml:"logLevel"`
}

// LoadConfigFile reads a YAML or JSON config file.
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file ConfigFile
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return &file, nil
}

// Profile returns the defaults with the named profile merged on top.
func (f *ConfigFile) Profile(name string) (Settings, error) {
	settings := f.Default
	if name == "" || name == "default" {
		return settings, nil
	}
	profile, ok := f.Profiles[name]
	if !ok {
		return Settings{}, fmt.Errorf("profile '%s' not found in config file", name)
	}
	mergeSettings(&settings, &profile)
	return settings, nil
}

// applyTo copies every value that is set in s and whose flag was not given explicitly.
func (s Settings) applyTo(cfg *Config, isSet func(string) bool) error {
	use := func(flagName string, present bool) bool {
		return present && !isSet(flagName)
	}

	if use(flags.ChainRpcFlag.Name, s.RPCURL != "") {
		cfg.Chain.ChainRpcUrl = s.RPCURL
	}
	if use(flags.ChainIdFlag.Name, s.ChainID != 0) {
		cfg.Chain.ChainId = s.ChainID
	}
	if use(flags.StartingHeightFlag.Name, s.StartingHeight != 0) {
		cfg.Chain.StartingHeight = s.StartingHeight
	}
	if use(flags.ConfirmationsFlag.Name, s.Confirmations != 0) {
		cfg.Chain.Confirmations = s.Confirmations
	}
	if use(flags.BlocksStepFlag.Name, s.BlockStep != 0) {
		cfg.Chain.BlockStep = s.BlockStep
	}
	if use(flags.MainIntervalFlag.Name, s.MainLoopInterval != 0) {
		cfg.Chain.MainLoopInterval = s.MainLoopInterval
	}

	if use(flags.TxHashFlag.Name, len(s.TxHashes) > 0) {
		hashes, err := parseTxHashes(s.TxHashes)
		if err != nil {
			return err
		}
		cfg.Replay.TxHashes = hashes
	}
	if use(flags.FromBlockFlag.Name, s.FromBlock != 0) {
		cfg.Replay.FromBlock = s.FromBlock
	}
	if use(flags.ToBlockFlag.Name, s.ToBlock != 0) {
		cfg.Replay.ToBlock = s.ToBlock
	}
	if use(flags.WorkersFlag.Name, s.Workers != 0) {
		cfg.Replay.Workers = s.Workers
	}
	if use(flags.OutDirFlag.Name, s.OutDir != "") {
		cfg.Replay.OutDir = s.OutDir
	}
	if use(flags.VerifyFlag.Name, s.Verify) {
		cfg.Replay.Verify = true
	}
	if use(flags.StoreDBFlag.Name, s.StoreDB) {
		cfg.Replay.StoreDB = true
	}

	if use(flags.MasterDbHostFlag.Name, s.DBConfig.Host != "") {
		cfg.MasterDB.Host = s.DBConfig.Host
	}
	if use(flags.MasterDbPortFlag.Name, s.DBConfig.Port != 0) {
		cfg.MasterDB.Port = s.DBConfig.Port
	}
	if use(flags.MasterDbNameFlag.Name, s.DBConfig.Name != "") {
		cfg.MasterDB.Name = s.DBConfig.Name
	}
	if use(flags.MasterDbUserFlag.Name, s.DBConfig.User != "") {
		cfg.MasterDB.User = s.DBConfig.User
	}
	if use(flags.MasterDbPasswordFlag.Name, s.DBConfig.Password != "") {
		cfg.MasterDB.Password = s.DBConfig.Password
	}
	if use(flags.LogLevelFlag.Name, s.LogLevel != "") {
		cfg.LogLevel = s.LogLevel
	}
	return nil
}

func mergeSettings(target, source *Settings) {
	if source.RPCURL != "" {
		target.RPCURL = source.RPCURL
	}
	if source.ChainID != 0 {
		target.ChainID = source.ChainID
	}
	if source.StartingHeight != 0 {
		target.StartingHeight = source.StartingHeight
	}
	if source.Confirmations != 0 {
		target.Confirmations = source.Confirmations
	}
	if source.BlockStep != 0 {
		target.BlockStep = source.BlockStep
	}
	if source.MainLoopInterval != 0 {
		target.MainLoopInterval = source.MainLoopInterval
	}
	if len(source.TxHashes) > 0 {
		target.TxHashes = source.TxHashes
	}
	if source.FromBlock != 0 {
		target.FromBlock = source.FromBlock
	}
	if source.ToBlock != 0 {
		target.ToBlock = source.ToBlock
	}
	if source.Workers != 0 {
		target.Workers = source.Workers
	}
	if source.OutDir != "" {
		target.OutDir = source.OutDir
	}
	target.Verify = target.Verify || source.Verify
	target.StoreDB = target.StoreDB || source.StoreDB
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	// 合并数据库配置
	if source.DBConfig.Host != "" {
		target.DBConfig.Host = source.DBConfig.Host
	}
	if source.DBConfig.Port != 0 {
		target.DBConfig.Port = source.DBConfig.Port
	}
	if source.DBConfig.Name != "" {
		target.DBConfig.Name = source.DBConfig.Name
	}
	if source.DBConfig.User != "" {
		target.DBConfig.User = source.DBConfig.User
	}
	if source.DBConfig.Password != "" {
		target.DBConfig.Password = source.DBConfig.Password
	}
}
