package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/autofix/internal/notify"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, repository and delivery overview",
	Long: `Display queue lengths, per-repository delivery counts, the time each
repository was last analyzed, recent delivery outcomes and the database size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "recent", 10, "number of recent deliveries to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := initComponents(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Queues")+dimStyle.Render(" ("+cfg.Queue.Backend+")"))
	for _, name := range []string{cfg.Queue.AnalysisQueue, cfg.Queue.FixQueue} {
		n, err := c.Queue.Len(cmd.Context(), name)
		if err != nil {
			fmt.Fprintf(out, "  %-16s unavailable: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "  %-16s %d pending\n", name, n)
	}
	fmt.Fprintln(out)

	allStats, err := c.Store.GetAllRepoStats()
	if err != nil {
		return fmt.Errorf("querying stats: %w", err)
	}

	if len(allStats) == 0 {
		fmt.Fprintln(out, "No repositories registered yet.")
		fmt.Fprintln(out, "Install the GitHub App or run 'autofix analyze <owner/repo>' to get started.")
	} else {
		fmt.Fprintln(out, titleStyle.Render("Repositories"))
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REPOSITORY\tINSTALLATION\tDELIVERED\tREJECTED\tDROPPED\tOTHER\tLAST ANALYZED")
		fmt.Fprintln(w, "----------\t------------\t---------\t--------\t-------\t-----\t-------------")

		var delivered, rejected, dropped, other int
		for _, s := range allStats {
			lastAnalyzed := "never"
			if s.Repo.LastAnalyzedAt != nil {
				lastAnalyzed = notify.TimeAgo(*s.Repo.LastAnalyzedAt)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				s.Repo.FullName(), s.Repo.InstallationID, s.Delivered, s.Rejected, s.Dropped, s.Other, lastAnalyzed)

			delivered += s.Delivered
			rejected += s.Rejected
			dropped += s.Dropped
			other += s.Other
		}
		if len(allStats) > 1 {
			fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t%d\t\n", delivered, rejected, dropped, other)
		}
		w.Flush()
	}

	recent, err := c.Store.RecentDeliveries(statusLimit)
	if err != nil {
		return fmt.Errorf("querying deliveries: %w", err)
	}
	if len(recent) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, titleStyle.Render("Recent deliveries"))
		for _, d := range recent {
			detail := d.URL
			if detail == "" {
				detail = notify.Truncate(d.Detail, 80)
			}
			fmt.Fprintf(out, "  %-10s %s/%s %s %s %s\n",
				outcomeStyle(d.Outcome).Render(d.Outcome), d.Owner, d.Repo,
				fileStyle.Render(d.FilePath), dimStyle.Render(notify.TimeAgo(d.CreatedAt)), detail)
		}
	}

	fmt.Fprintln(out)
	dbSize, err := dbFileSize(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(out, "Database: %s (size unknown)\n", cfg.Store.Path)
	} else {
		fmt.Fprintf(out, "Database: %s (%s)\n", cfg.Store.Path, formatBytes(dbSize))
	}

	return nil
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// dbFileSize returns the size in bytes of the database file.
func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
