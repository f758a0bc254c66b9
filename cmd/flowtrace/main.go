package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/flowtrace/flags"
)

func main() {
	app := NewCli()
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Error("Application failed", "err", err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	level := log.LevelInfo
	switch strings.ToLower(ctx.String(flags.LogLevelFlag.Name)) {
	case "trace":
		level = log.LevelTrace
	case "debug":
		level = log.LevelDebug
	case "", "info":
	case "warn":
		level = log.LevelWarn
	case "error":
		level = log.LevelError
	case "crit":
		level = log.LevelCrit
	default:
		return fmt.Errorf("unknown log level %q", ctx.String(flags.LogLevelFlag.Name))
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true)))
	return nil
}
