package config

import (
	"fmt"
	"time"

	"github.com/DQYXACML/flowtrace/flags"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

type Config struct {
	Chain      ChainConfig
	Replay     ReplayConfig
	MasterDB   DBConfig
	LogLevel   string
	Migrations string
}

type ChainConfig struct {
	ChainRpcUrl      string
	ChainId          uint
	StartingHeight   uint64
	Confirmations    uint64
	BlockStep        uint64
	MainLoopInterval time.Duration
}

type ReplayConfig struct {
	TxHashes  []common.Hash
	FromBlock uint64
	ToBlock   uint64
	Workers   int
	OutDir    string
	Verify    bool
	StoreDB   bool
}

type DBConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

// DSN 获取数据库连接字符串
func (c DBConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", c.Host, c.Name)
	if c.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", c.Port)
	}
	if c.User != "" {
		dsn += fmt.Sprintf(" user=%s", c.User)
	}
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// LoadConfig reads the flags and, when --config is given, fills every flag the
// user did not set explicitly from the config file.
func LoadConfig(cliCtx *cli.Context) (Config, error) {
	cfg, err := NewConfig(cliCtx)
	if err != nil {
		return Config{}, err
	}

	if path := cliCtx.String(flags.ConfigFileFlag.Name); path != "" {
		file, err := LoadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		settings, err := file.Profile(cliCtx.String(flags.ProfileFlag.Name))
		if err != nil {
			return Config{}, err
		}
		if err := settings.applyTo(&cfg, cliCtx.IsSet); err != nil {
			return Config{}, err
		}
		log.Info("loaded config file", "path", path, "profile", cliCtx.String(flags.ProfileFlag.Name))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.Info("loaded chain config", "rpc", cfg.Chain.ChainRpcUrl != "", "chainId", cfg.Chain.ChainId)
	return cfg, nil
}

func NewConfig(cliCtx *cli.Context) (Config, error) {
	hashes, err := parseTxHashes(cliCtx.StringSlice(flags.TxHashFlag.Name))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Chain: ChainConfig{
			ChainId:          cliCtx.Uint(flags.ChainIdFlag.Name),
			ChainRpcUrl:      cliCtx.String(flags.ChainRpcFlag.Name),
			MainLoopInterval: cliCtx.Duration(flags.MainIntervalFlag.Name),
			BlockStep:        cliCtx.Uint64(flags.BlocksStepFlag.Name),
			StartingHeight:   cliCtx.Uint64(flags.StartingHeightFlag.Name),
			Confirmations:    cliCtx.Uint64(flags.ConfirmationsFlag.Name),
		},
		Replay: ReplayConfig{
			TxHashes:  hashes,
			FromBlock: cliCtx.Uint64(flags.FromBlockFlag.Name),
			ToBlock:   cliCtx.Uint64(flags.ToBlockFlag.Name),
			Workers:   cliCtx.Int(flags.WorkersFlag.Name),
			OutDir:    cliCtx.String(flags.OutDirFlag.Name),
			Verify:    cliCtx.Bool(flags.VerifyFlag.Name),
			StoreDB:   cliCtx.Bool(flags.StoreDBFlag.Name),
		},
		MasterDB: DBConfig{
			Host:     cliCtx.String(flags.MasterDbHostFlag.Name),
			Port:     cliCtx.Int(flags.MasterDbPortFlag.Name),
			Name:     cliCtx.String(flags.MasterDbNameFlag.Name),
			User:     cliCtx.String(flags.MasterDbUserFlag.Name),
			Password: cliCtx.String(flags.MasterDbPasswordFlag.Name),
		},
		LogLevel:   cliCtx.String(flags.LogLevelFlag.Name),
		Migrations: cliCtx.String(flags.MigrationsFlag.Name),
	}, nil
}

// Validate checks settings that no command can work around.
func (c Config) Validate() error {
	if c.Replay.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Replay.Workers)
	}
	if c.Replay.ToBlock != 0 && c.Replay.FromBlock > c.Replay.ToBlock {
		return fmt.Errorf("invalid block range %d..%d", c.Replay.FromBlock, c.Replay.ToBlock)
	}
	if c.Chain.BlockStep == 0 {
		return fmt.Errorf("blocks-step must be positive")
	}
	return nil
}

// HasDB reports whether a master database is configured.
func (c Config) HasDB() bool {
	return c.MasterDB.Host != "" && c.MasterDB.Name != ""
}

func parseTxHashes(raw []string) ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, len(raw))
	for _, s := range raw {
		b, err := decodeHash(s)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, b)
	}
	return hashes, nil
}

func decodeHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.BytesToHash(b), nil
}
