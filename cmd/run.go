package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jacklau/autofix/internal/delivery"
	"github.com/jacklau/autofix/internal/guardrail"
	"github.com/jacklau/autofix/internal/queue"
)

var (
	runInstallation int64
	runDryRun       bool
)

var runCmd = &cobra.Command{
	Use:   "run <owner/repo>",
	Short: "Analyze a repository and fix its top issue without the queue consumers",
	Long: `Run performs one analysis and one delivery in the foreground. With
--dry-run the generated diff and the guardrail verdict are printed and no
branch or pull request is created.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int64Var(&runInstallation, "installation", 0, "GitHub App installation ID (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the fix instead of opening a pull request")
	_ = runCmd.MarkFlagRequired("installation")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	owner, repo, err := parseRepo(args[0])
	if err != nil {
		return err
	}
	if runInstallation <= 0 {
		return fmt.Errorf("--installation must be positive")
	}

	logger := setupLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.RequireDelivery(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	job, err := c.Pipeline.Analyze(ctx, queue.AnalysisJob{
		RepoOwner:      owner,
		RepoName:       repo,
		InstallationID: runInstallation,
	})
	if err != nil {
		return fmt.Errorf("analyzing %s: %w", args[0], err)
	}
	if job == nil {
		fmt.Fprintf(out, "No issues found in %s\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "Selected %s in %s:%d: %s\n\n",
		job.Issue.Type(), job.FilePath, job.Issue.Line, job.Issue.Describe())

	if runDryRun {
		return dryRun(ctx, out, c, *job)
	}

	res, err := c.Delivery.Deliver(ctx, *job)
	if errors.Is(err, delivery.ErrRequeued) {
		fmt.Fprintf(out, "Delivery failed, job re-enqueued on %s: %v\n", cfg.Queue.FixQueue, err)
		return nil
	}
	if err != nil {
		return err
	}

	switch res.Outcome {
	case delivery.Delivered:
		fmt.Fprintf(out, "Pull request opened: %s (%s)\n", res.URL, res.Verdict)
	case delivery.Rejected:
		renderDiff(out, res.Diff, res.Verdict)
	default:
		fmt.Fprintf(out, "Nothing delivered: %s\n", res.Outcome)
	}
	return nil
}

// dryRun generates and checks a fix without touching the repository.
func dryRun(ctx context.Context, out io.Writer, c *components, job queue.FixJob) error {
	fix, err := c.Generator.Generate(ctx, job.Issue, job.OriginalCode)
	if err != nil {
		return fmt.Errorf("generating fix: %w", err)
	}
	if guardrail.Identical(job.OriginalCode, fix.FixedCode) {
		fmt.Fprintln(out, "The model returned the original code unchanged.")
		return nil
	}

	diff, err := guardrail.UnifiedDiff(job.FilePath, job.OriginalCode, fix.FixedCode)
	if err != nil {
		return fmt.Errorf("rendering diff: %w", err)
	}
	fmt.Fprintln(out, dimStyle.Render("commit: "+fix.CommitMessage))
	renderDiff(out, diff, c.Guard.Check(job.OriginalCode, fix.FixedCode))
	return nil
}
