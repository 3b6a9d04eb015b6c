package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacklau/autofix/internal/queue"
)

var analyzeInstallation int64

var analyzeCmd = &cobra.Command{
	Use:   "analyze <owner/repo>",
	Short: "Enqueue an analysis job for a repository",
	Long: `Analyze pushes one analysis job onto the analysis queue. A running
'autofix serve' picks it up.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Int64Var(&analyzeInstallation, "installation", 0, "GitHub App installation ID (required)")
	_ = analyzeCmd.MarkFlagRequired("installation")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	owner, repo, err := parseRepo(args[0])
	if err != nil {
		return err
	}
	if analyzeInstallation <= 0 {
		return fmt.Errorf("--installation must be positive")
	}

	logger := setupLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	if err := register(c, analyzeInstallation, owner, repo); err != nil {
		logger.Warn("registering repository failed", "repo", args[0], "error", err)
	}

	job := queue.AnalysisJob{RepoOwner: owner, RepoName: repo, InstallationID: analyzeInstallation}
	if err := queue.Push(ctx, c.Queue, cfg.Queue.AnalysisQueue, job); err != nil {
		return fmt.Errorf("enqueueing analysis: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued analysis of %s on %s\n", job.Repo(), cfg.Queue.AnalysisQueue)
	return nil
}

// register records the repository so the scheduler re-analyzes it. An
// unknown installation is recorded under the repository owner's name.
func register(c *components, installationID int64, owner, repo string) error {
	if _, err := c.Store.GetInstallation(installationID); err != nil {
		if err := c.Store.UpsertInstallation(installationID, owner); err != nil {
			return err
		}
	}
	_, err := c.Store.AddRepository(installationID, owner, repo)
	return err
}
