package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/autofix/internal/notify"
	"github.com/jacklau/autofix/internal/schedule"
	"github.com/jacklau/autofix/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, scheduler and both pipeline consumers",
	Long: `Serve starts the HTTP trigger surface, the periodic re-analysis scheduler,
the analysis and fix queue consumers and, when configured, Slack/Discord
notifications. It runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.RequireDelivery(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	interval, err := cfg.Schedule.Interval()
	if err != nil {
		return fmt.Errorf("parsing schedule interval: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	srv := server.New(server.Config{
		Addr:          cfg.Server.Addr,
		WebhookSecret: cfg.GitHub.WebhookSecret,
		AnalysisQueue: cfg.Queue.AnalysisQueue,
		FixQueue:      cfg.Queue.FixQueue,
		Version:       version,
	}, c.Queue, c.Store, logger)
	sched := schedule.New(c.Store, c.Queue, cfg.Queue.AnalysisQueue, interval, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Pipeline.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	if n := notify.NewNotifier(cfg.Notify.SlackWebhook, cfg.Notify.DiscordWebhook); n != nil {
		events := c.Broker.Subscribe(ctx)
		g.Go(func() error {
			notify.Listen(ctx, events, n, logger)
			return nil
		})
	}

	logger.Info("autofix started",
		"addr", cfg.Server.Addr,
		"queue_backend", cfg.Queue.Backend,
		"provider", cfg.Providers.LLM.Type,
	)
	err = g.Wait()
	if missed := c.Broker.Missed(); missed > 0 {
		logger.Warn("notification events missed", "count", missed)
	}
	if err != nil {
		logger.Error("autofix stopped", "error", err)
		return err
	}
	logger.Info("autofix stopped")
	return nil
}
