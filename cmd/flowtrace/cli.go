package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/flowtrace"
	"github.com/DQYXACML/flowtrace/common/cliapp"
	"github.com/DQYXACML/flowtrace/config"
	"github.com/DQYXACML/flowtrace/database"
	"github.com/DQYXACML/flowtrace/flags"
	"github.com/DQYXACML/flowtrace/synchronizer"
	"github.com/DQYXACML/flowtrace/tracing"
)

var (
	hashStyle     = color.New(color.FgCyan, color.Bold)
	okStyle       = color.New(color.FgGreen)
	revertedStyle = color.New(color.FgRed, color.Bold)
	nativeStyle   = color.New(color.FgYellow)
	faintStyle    = color.New(color.Faint)
)

func runFollow(ctx *cli.Context) (cliapp.Lifecycle, error) {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return nil, err
	}
	return flowtrace.NewFlowTrace(ctx.Context, &cfg)
}

func runReplay(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return err
	}
	if len(cfg.Replay.TxHashes) == 0 {
		return errors.New("no transaction given, use --tx")
	}
	ft, err := flowtrace.NewFlowTrace(ctx.Context, &cfg)
	if err != nil {
		return err
	}
	defer ft.Close()

	traces, err := ft.ReplayTxs(ctx.Context, cfg.Replay.TxHashes)
	for _, trace := range traces {
		printTrace(os.Stdout, trace)
	}
	return err
}

func runBlocks(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return err
	}
	from, to := cfg.Replay.FromBlock, cfg.Replay.ToBlock
	if to == 0 {
		to = from
	}
	ft, err := flowtrace.NewFlowTrace(ctx.Context, &cfg)
	if err != nil {
		return err
	}
	defer ft.Close()

	results, err := ft.ReplayBlocks(ctx.Context, from, to)
	printBlocks(os.Stdout, results)
	log.Info("Replay metrics", ft.Metrics().Snapshot().LogContext()...)
	return err
}

func runMigrations(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return err
	}
	db, err := database.NewDB(ctx.Context, cfg.MasterDB)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer func(db *database.DB) {
		if err := db.Close(); err != nil {
			log.Error("fail to close database", "err", err)
		}
	}(db)
	return db.ExecuteSQLMigration(cfg.Migrations)
}

func printTrace(w io.Writer, trace *tracing.TxTrace) {
	status := okStyle.Sprint("success")
	if trace.Reverted {
		status = revertedStyle.Sprint("reverted")
	}
	fmt.Fprintf(w, "%s  block %d  %s  gas %d\n", hashStyle.Sprint(trace.TxHash.Hex()), trace.BlockNumber, status, trace.GasUsed)
	fmt.Fprintf(w, "  frames %d  opcodes %d  money flows %d\n", len(trace.Frames), trace.OpcodeCount(), len(trace.MoneyFlows))

	if len(trace.MoneyFlows) > 0 {
		fmt.Fprintln(w, moneyFlowTable(trace.MoneyFlows))
	}
	for _, f := range trace.Failures {
		fmt.Fprintf(w, "  %s log %d from %s: %s\n", revertedStyle.Sprint("undecoded"), f.LogIndex, f.Emitter, f.Reason)
	}
	fmt.Fprintln(w)
}

func moneyFlowTable(entries []tracing.MoneyFlowEntry) string {
	rows, err := tracing.Normalize(entries)
	if err != nil {
		// show the raw id/value words rather than nothing
		log.Warn("failed to normalize money flows", "err", err)
		rows = lo.Map(entries, func(e tracing.MoneyFlowEntry, _ int) tracing.NormalizedMoneyFlow {
			return tracing.NormalizedMoneyFlow(e)
		})
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.AppendHeader(table.Row{"#", "From", "To", "Token", "Amount", "Token ID", "Call stack"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	for _, row := range rows {
		token := row.Token
		if token == tracing.NativeToken {
			token = nativeStyle.Sprint(token)
		}
		stack := strings.Join(lo.Map(row.CallStack, func(i int, _ int) string { return fmt.Sprint(i) }), ">")
		t.AppendRow(table.Row{row.Index, row.From, row.To, token, row.Amount, faintStyle.Sprint(row.TokenID), stack})
	}
	return t.Render()
}

func printBlocks(w io.Writer, results []synchronizer.BlockResult) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Block", "Txs", "Replayed", "Failed"})
	for _, r := range results {
		failed := fmt.Sprint(len(r.Failed))
		if len(r.Failed) > 0 {
			failed = revertedStyle.Sprint(failed)
		}
		t.AppendRow(table.Row{r.Number, r.TxCount, r.Replayed, failed})
	}
	t.AppendFooter(table.Row{
		"total",
		lo.SumBy(results, func(r synchronizer.BlockResult) int { return r.TxCount }),
		lo.SumBy(results, func(r synchronizer.BlockResult) int { return r.Replayed }),
		lo.SumBy(results, func(r synchronizer.BlockResult) int { return len(r.Failed) }),
	})
	fmt.Fprintln(w, t.Render())

	for _, r := range lo.Filter(results, func(r synchronizer.BlockResult, _ int) bool { return len(r.Failed) > 0 }) {
		for _, hash := range r.Failed {
			fmt.Fprintf(w, "  block %d: %s\n", r.Number, revertedStyle.Sprint(hash.Hex()))
		}
	}
}

func NewCli() *cli.App {
	myFlags := flags.Flags
	return &cli.App{
		Version:              "v0.0.1",
		Description:          "Replays transactions against their pre-state and reports call trees and money flows",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "replay",
				Description: "Replays the transactions given with --tx",
				Flags:       myFlags,
				Before:      setupLogging,
				Action:      runReplay,
			},
			{
				Name:        "blocks",
				Description: "Replays every transaction of blocks --from..--to",
				Flags:       myFlags,
				Before:      setupLogging,
				Action:      runBlocks,
			},
			{
				Name:        "follow",
				Description: "Follows the chain head and replays every confirmed block",
				Flags:       myFlags,
				Before:      setupLogging,
				Action:      cliapp.LifecycleCmd(runFollow),
			},
			{
				Name:        "migrate",
				Description: "Runs the database migrations",
				Flags:       flags.MigrateFlags,
				Before:      setupLogging,
				Action:      runMigrations,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}
