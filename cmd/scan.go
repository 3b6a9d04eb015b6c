package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jacklau/autofix/internal/analyzer"
	"github.com/jacklau/autofix/internal/issue"
)

var scanLimit int

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Analyze a local checkout and show the ranked issues",
	Long: `Scan runs radon and flake8 over a local directory, scores every finding
and prints them in priority order. The first entry is the issue a pipeline
run would try to fix. No model is called and nothing is pushed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanLimit, "limit", 20, "maximum number of issues to print (0 for all)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}

	logger := setupLogger()

	// Scanning works without a config file; defaults apply.
	opts := analyzer.Options{}
	normalize := issue.DefaultNormalizeOptions
	scorer := issue.Scorer{}
	if cfg, err := loadConfig(); err == nil {
		timeout, _ := cfg.Analyzer.Timeout()
		opts = analyzer.Options{Radon: cfg.Analyzer.Radon, Flake8: cfg.Analyzer.Flake8, Timeout: timeout}
		normalize = normalizeOptions(cfg)
		scorer.MaintainabilityWeight = cfg.Scoring.MaintainabilityWeight
	} else {
		logger.Debug("using default settings", "reason", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := analyzer.New(opts, nil, logger).Local(ctx, abs)
	if err != nil {
		return fmt.Errorf("analyzing %s: %w", abs, err)
	}

	ranked := scorer.Rank(issue.Normalize(report, normalize))
	renderIssues(cmd.OutOrStdout(), filepath.Base(abs), ranked, scanLimit)
	return nil
}
