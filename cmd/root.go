package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/autofix/internal/analyzer"
	"github.com/jacklau/autofix/internal/config"
	"github.com/jacklau/autofix/internal/delivery"
	"github.com/jacklau/autofix/internal/fixgen"
	"github.com/jacklau/autofix/internal/github"
	"github.com/jacklau/autofix/internal/guardrail"
	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/pipeline"
	"github.com/jacklau/autofix/internal/provider"
	"github.com/jacklau/autofix/internal/pubsub"
	"github.com/jacklau/autofix/internal/queue"
	"github.com/jacklau/autofix/internal/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "autofix",
	Short: "Pick the worst code-quality issue in a repository and open a pull request fixing it",
	Long: `Autofix analyzes Python repositories with radon and flake8, scores every
finding, asks a code-generation model to fix the single most pressing one and
opens a pull request, unless the diff is too large to be a focused fix.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autofix/config.yaml"
	}
	return home + "/.autofix/config.yaml"
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands. GitHub,
// Completer, Generator, Delivery and Pipeline are nil when credentials are
// missing.
type components struct {
	Config    *config.Config
	Store     *store.DB
	Queue     queue.Queue
	GitHub    *github.AppClients
	Completer provider.Completer
	Generator *fixgen.Generator
	Guard     guardrail.Guard
	Scanner   *analyzer.Scanner
	Delivery  *delivery.Service
	Pipeline  *pipeline.Pipeline
	Broker    *pubsub.Broker[pipeline.Outcome]
	Logger    *slog.Logger
}

// Close releases the queue connection and the store.
func (c *components) Close() {
	if c.Queue != nil {
		c.Queue.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

// initComponents creates all components from config.
func initComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config: cfg,
		Logger: logger,
		Guard:  guardrail.New(cfg.Guardrail.MaxChangedLines, cfg.Guardrail.MaxChangedRatio),
		Broker: pubsub.NewBroker[pipeline.Outcome](),
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	c.Store = db

	q, err := queue.New(cfg.Queue, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating queue: %w", err)
	}
	c.Queue = q

	if cfg.GitHub.HasCredentials() {
		appID, err := cfg.GitHub.AppIDInt()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parsing app_id: %w", err)
		}
		apps, err := github.NewAppClients(appID, []byte(cfg.GitHub.PrivateKey), cfg.GitHub.PrivateKeyPath, cfg.GitHub.APIURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("creating GitHub client: %w", err)
		}
		c.GitHub = apps
	}

	llm := cfg.Providers.LLM
	if llm.APIKey != "" || llm.Type == "ollama" {
		completer, err := provider.NewCompleter(ctx, provider.CompleterConfig{
			Type:   llm.Type,
			Model:  llm.Model,
			APIKey: llm.APIKey,
			URL:    llm.URL,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("creating LLM provider: %w", err)
		}
		timeout, err := llm.RequestTimeout()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parsing request_timeout: %w", err)
		}
		c.Completer = completer
		c.Generator = fixgen.New(completer, fixgen.Options{
			Temperature: llm.Temperature,
			MaxTokens:   llm.MaxTokens,
			Timeout:     timeout,
		})
	}

	scanTimeout, err := cfg.Analyzer.Timeout()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("parsing analyzer timeout: %w", err)
	}
	var tokens analyzer.TokenSource
	if c.GitHub != nil {
		tokens = c.GitHub
	}
	c.Scanner = analyzer.New(analyzer.Options{
		Radon:   cfg.Analyzer.Radon,
		Flake8:  cfg.Analyzer.Flake8,
		Timeout: scanTimeout,
	}, tokens, logger)

	if c.GitHub != nil && c.Generator != nil {
		c.Delivery = delivery.New(delivery.Config{
			FixQueue:      cfg.Queue.FixQueue,
			MaxRetries:    cfg.Pipeline.MaxRetries,
			SkipUnchanged: cfg.Pipeline.ShouldSkipUnchanged(),
			SkipDelivered: cfg.Pipeline.SkipDelivered,
			BranchPrefix:  cfg.GitHub.BranchPrefix,
			BaseBranch:    cfg.GitHub.BaseBranch,
		}, delivery.Deps{
			Generator: c.Generator,
			Guard:     c.Guard,
			Changes:   c.GitHub,
			Queue:     c.Queue,
			Store:     db,
			Logger:    logger,
		})

		poll, err := cfg.Pipeline.PollInterval()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parsing poll_interval: %w", err)
		}
		backoff, err := cfg.Pipeline.ErrorBackoff()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parsing error_backoff: %w", err)
		}
		c.Pipeline = pipeline.New(pipeline.PipelineDeps{
			Queue:         c.Queue,
			AnalysisQueue: cfg.Queue.AnalysisQueue,
			FixQueue:      cfg.Queue.FixQueue,
			Scanner:       c.Scanner,
			Source:        c.GitHub,
			Normalize:     normalizeOptions(cfg),
			Scorer:        issue.Scorer{MaintainabilityWeight: cfg.Scoring.MaintainabilityWeight},
			Deliverer:     c.Delivery,
			Registry:      db,
			Broker:        c.Broker,
			PollInterval:  poll,
			ErrorBackoff:  backoff,
			MaxRetries:    cfg.Pipeline.MaxRetries,
			Logger:        logger,
		})
	}

	return c, nil
}

func normalizeOptions(cfg *config.Config) issue.NormalizeOptions {
	return issue.NormalizeOptions{
		TargetComplexity:         cfg.Scoring.TargetComplexity,
		MaintainabilityThreshold: cfg.Scoring.MaintainabilityThreshold,
	}
}

// parseRepo splits "owner/repo".
func parseRepo(arg string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(arg, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repo format: expected owner/repo, got %q", arg)
	}
	return owner, repo, nil
}
