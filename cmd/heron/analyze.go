package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	analyzeBlocks uint64
	analyzeFrom   uint64
	analyzeTo     uint64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Scan a block range once, run one detection pass, export and exit",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().Uint64Var(&analyzeBlocks, "blocks", 0, "scan the last N confirmed blocks (overrides chain.lookback)")
	analyzeCmd.Flags().Uint64Var(&analyzeFrom, "from", 0, "first block of a fixed range")
	analyzeCmd.Flags().Uint64Var(&analyzeTo, "to", 0, "last block of a fixed range")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cfg.Chain.Follow = false
	if analyzeBlocks > 0 {
		cfg.Chain.Lookback = analyzeBlocks
		cfg.Chain.StartBlock, cfg.Chain.EndBlock = 0, 0
	}
	if analyzeFrom > 0 || analyzeTo > 0 {
		if analyzeTo > 0 && analyzeTo < analyzeFrom {
			return fmt.Errorf("--to %d is below --from %d", analyzeTo, analyzeFrom)
		}
		cfg.Chain.StartBlock, cfg.Chain.EndBlock = analyzeFrom, analyzeTo
	}

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("failed to initialize heron", "error", err)
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.blacklist.Refresh(ctx); err != nil {
		slog.Warn("sanctions feed unavailable, using static blacklist", "error", err)
	}

	progress, err := a.scanner.Run(ctx)
	if err != nil {
		slog.Error("scan failed", "error", err)
		return err
	}
	slog.Info("scan finished",
		"from", progress.From,
		"to", progress.To,
		"appended", progress.Appended,
		"duplicates", progress.Duplicates,
		"rejected", progress.Rejected,
	)

	report, err := a.analyzer.RunPass(ctx)
	if err != nil {
		slog.Error("detection pass failed", "error", err)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report.Summary())
}
