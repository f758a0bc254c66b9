package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "FLOWTRACE"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML or JSON config file; flags override its values",
		EnvVars: prefixEnvVars("CONFIG"),
	}
	ProfileFlag = &cli.StringFlag{
		Name:    "profile",
		Usage:   "Named profile of the config file to apply on top of its defaults",
		EnvVars: prefixEnvVars("PROFILE"),
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "Log level: trace, debug, info, warn, error, crit",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
	}
)

// chain flags
var (
	ChainRpcFlag = &cli.StringFlag{
		Name:    "rpc-url",
		Usage:   "HTTP or WS url of an archive node exposing the debug namespace",
		EnvVars: prefixEnvVars("RPC_URL"),
	}
	ChainIdFlag = &cli.UintFlag{
		Name:    "chain-id",
		Usage:   "Chain id; 0 asks the node",
		EnvVars: prefixEnvVars("CHAIN_ID"),
	}
	StartingHeightFlag = &cli.Uint64Flag{
		Name:    "starting-height",
		Usage:   "Block the follower starts after",
		EnvVars: prefixEnvVars("STARTING_HEIGHT"),
	}
	ConfirmationsFlag = &cli.Uint64Flag{
		Name:    "confirmations",
		Usage:   "Blocks to stay behind head",
		Value:   12,
		EnvVars: prefixEnvVars("CONFIRMATIONS"),
	}
	BlocksStepFlag = &cli.Uint64Flag{
		Name:    "blocks-step",
		Usage:   "Maximum number of blocks per follower round",
		Value:   5,
		EnvVars: prefixEnvVars("BLOCKS_STEP"),
	}
	MainIntervalFlag = &cli.DurationFlag{
		Name:    "main-loop-interval",
		Usage:   "Follower polling interval",
		Value:   time.Second * 5,
		EnvVars: prefixEnvVars("MAIN_LOOP_INTERVAL"),
	}
)

// replay flags
var (
	TxHashFlag = &cli.StringSliceFlag{
		Name:    "tx",
		Usage:   "Transaction hash to replay; repeatable",
		EnvVars: prefixEnvVars("TX"),
	}
	FromBlockFlag = &cli.Uint64Flag{
		Name:    "from",
		Usage:   "First block to replay",
		EnvVars: prefixEnvVars("FROM_BLOCK"),
	}
	ToBlockFlag = &cli.Uint64Flag{
		Name:    "to",
		Usage:   "Last block to replay (inclusive)",
		EnvVars: prefixEnvVars("TO_BLOCK"),
	}
	WorkersFlag = &cli.IntFlag{
		Name:    "workers",
		Usage:   "Transactions replayed concurrently",
		Value:   4,
		EnvVars: prefixEnvVars("WORKERS"),
	}
	OutDirFlag = &cli.StringFlag{
		Name:    "out",
		Usage:   "Directory receiving one <txhash>.json per replayed transaction; empty disables",
		EnvVars: prefixEnvVars("OUT"),
	}
	VerifyFlag = &cli.BoolFlag{
		Name:    "verify",
		Usage:   "Compare the reconstructed frame count with the node's callTracer",
		EnvVars: prefixEnvVars("VERIFY"),
	}
	StoreDBFlag = &cli.BoolFlag{
		Name:    "store-db",
		Usage:   "Persist traces to the master database",
		EnvVars: prefixEnvVars("STORE_DB"),
	}
)

// database flags
var (
	MasterDbHostFlag = &cli.StringFlag{
		Name:    "master-db-host",
		Usage:   "The host of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_HOST"),
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:    "master-db-port",
		Usage:   "The port of the master database",
		Value:   5432,
		EnvVars: prefixEnvVars("MASTER_DB_PORT"),
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:    "master-db-user",
		Usage:   "The user of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_USER"),
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:    "master-db-password",
		Usage:   "The password of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PASSWORD"),
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:    "master-db-name",
		Usage:   "The db name of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_NAME"),
	}
	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Value:   "./migrations",
		Usage:   "path for database migrations",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
	}
)

var commonFlags = []cli.Flag{
	ConfigFileFlag,
	ProfileFlag,
	LogLevelFlag,
}

var ChainFlags = []cli.Flag{
	ChainRpcFlag,
	ChainIdFlag,
	StartingHeightFlag,
	ConfirmationsFlag,
	BlocksStepFlag,
	MainIntervalFlag,
}

var ReplayFlags = []cli.Flag{
	TxHashFlag,
	FromBlockFlag,
	ToBlockFlag,
	WorkersFlag,
	OutDirFlag,
	VerifyFlag,
	StoreDBFlag,
}

var DBFlags = []cli.Flag{
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

// MigrateFlags are the flags of the migrate command.
var MigrateFlags []cli.Flag

func init() {
	Flags = append(Flags, commonFlags...)
	Flags = append(Flags, ChainFlags...)
	Flags = append(Flags, ReplayFlags...)
	Flags = append(Flags, DBFlags...)

	MigrateFlags = append(MigrateFlags, Flags...)
	MigrateFlags = append(MigrateFlags, MigrationsFlag)
}
