package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	GitHub    GitHubConfig    `yaml:"github"`
	Providers ProvidersConfig `yaml:"providers"`
	Queue     QueueConfig     `yaml:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Store     StoreConfig     `yaml:"store"`
}

// GitHubConfig holds GitHub App authentication and change-request settings.
type GitHubConfig struct {
	AppID          string `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	BaseBranch     string `yaml:"base_branch"`
	BranchPrefix   string `yaml:"branch_prefix"`
	APIURL         string `yaml:"api_url"`
}

// AppIDInt returns the parsed App ID.
func (g GitHubConfig) AppIDInt() (int64, error) {
	return strconv.ParseInt(g.AppID, 10, 64)
}

// HasCredentials reports whether enough is configured to authenticate as the App.
func (g GitHubConfig) HasCredentials() bool {
	return g.AppID != "" && (g.PrivateKey != "" || g.PrivateKeyPath != "")
}

// ProviderConfig holds settings for the code-generation model.
type ProviderConfig struct {
	Type              string  `yaml:"type"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	URL               string  `yaml:"url"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestTimeoutRaw string  `yaml:"request_timeout"`
}

// RequestTimeout returns the parsed per-completion timeout.
func (p ProviderConfig) RequestTimeout() (time.Duration, error) {
	if p.RequestTimeoutRaw == "" {
		return 120 * time.Second, nil
	}
	return time.ParseDuration(p.RequestTimeoutRaw)
}

// ProvidersConfig groups provider configs.
type ProvidersConfig struct {
	LLM ProviderConfig `yaml:"llm"`
}

// QueueConfig selects the queue backend and queue names.
type QueueConfig struct {
	Backend       string `yaml:"backend"`
	URL           string `yaml:"url"`
	AnalysisQueue string `yaml:"analysis_queue"`
	FixQueue      string `yaml:"fix_queue"`
}

// PipelineConfig holds consumer loop settings.
type PipelineConfig struct {
	PollIntervalRaw string `yaml:"poll_interval"`
	ErrorBackoffRaw string `yaml:"error_backoff"`
	MaxRetries      int    `yaml:"max_retries"`
	SkipUnchanged   *bool  `yaml:"skip_unchanged"`
	SkipDelivered   bool   `yaml:"skip_delivered"`
}

// PollInterval returns the sleep between polls.
func (p PipelineConfig) PollInterval() (time.Duration, error) {
	if p.PollIntervalRaw == "" {
		return time.Second, nil
	}
	return time.ParseDuration(p.PollIntervalRaw)
}

// ErrorBackoff returns the sleep after a failed job.
func (p PipelineConfig) ErrorBackoff() (time.Duration, error) {
	if p.ErrorBackoffRaw == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(p.ErrorBackoffRaw)
}

// ShouldSkipUnchanged reports whether fixes identical to the original are
// dropped before delivery. Defaults to true.
func (p PipelineConfig) ShouldSkipUnchanged() bool {
	return p.SkipUnchanged == nil || *p.SkipUnchanged
}

// ScoringConfig holds issue normalization and scoring parameters.
type ScoringConfig struct {
	MaintainabilityWeight    float64 `yaml:"maintainability_weight"`
	MaintainabilityThreshold float64 `yaml:"maintainability_threshold"`
	TargetComplexity         int     `yaml:"target_complexity"`
}

// GuardrailConfig holds diff-size thresholds.
type GuardrailConfig struct {
	MaxChangedLines int     `yaml:"max_changed_lines"`
	MaxChangedRatio float64 `yaml:"max_changed_ratio"`
}

// AnalyzerConfig holds static analysis tool settings.
type AnalyzerConfig struct {
	Radon      string `yaml:"radon"`
	Flake8     string `yaml:"flake8"`
	TimeoutRaw string `yaml:"timeout"`
}

// Timeout returns the per-scan timeout.
func (a AnalyzerConfig) Timeout() (time.Duration, error) {
	if a.TimeoutRaw == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(a.TimeoutRaw)
}

// ScheduleConfig holds periodic re-analysis settings.
type ScheduleConfig struct {
	IntervalRaw string `yaml:"interval"`
}

// Interval returns the re-analysis interval. Zero disables the scheduler.
func (s ScheduleConfig) Interval() (time.Duration, error) {
	if s.IntervalRaw == "" {
		return 7 * 24 * time.Hour, nil
	}
	if s.IntervalRaw == "0" {
		return 0, nil
	}
	return time.ParseDuration(s.IntervalRaw)
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// NotifyConfig holds notification webhook URLs.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.GitHub.PrivateKeyPath = expandTilde(cfg.GitHub.PrivateKeyPath)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

func applyDefaults(cfg *Config) {
	if cfg.GitHub.BranchPrefix == "" {
		cfg.GitHub.BranchPrefix = "autofix"
	}
	if cfg.Providers.LLM.Type == "" {
		cfg.Providers.LLM.Type = "openai"
	}
	if cfg.Providers.LLM.Temperature == 0 {
		cfg.Providers.LLM.Temperature = 0.7
	}
	if cfg.Providers.LLM.MaxTokens == 0 {
		cfg.Providers.LLM.MaxTokens = 2000
	}
	if cfg.Providers.LLM.RequestTimeoutRaw == "" {
		cfg.Providers.LLM.RequestTimeoutRaw = "120s"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "sqlite"
	}
	if cfg.Queue.AnalysisQueue == "" {
		cfg.Queue.AnalysisQueue = "analysis_jobs"
	}
	if cfg.Queue.FixQueue == "" {
		cfg.Queue.FixQueue = "fix_jobs"
	}
	if cfg.Pipeline.PollIntervalRaw == "" {
		cfg.Pipeline.PollIntervalRaw = "1s"
	}
	if cfg.Pipeline.ErrorBackoffRaw == "" {
		cfg.Pipeline.ErrorBackoffRaw = "5s"
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 5
	}
	if cfg.Scoring.MaintainabilityThreshold == 0 {
		cfg.Scoring.MaintainabilityThreshold = 50
	}
	if cfg.Scoring.TargetComplexity == 0 {
		cfg.Scoring.TargetComplexity = 10
	}
	if cfg.Guardrail.MaxChangedLines == 0 {
		cfg.Guardrail.MaxChangedLines = 50
	}
	if cfg.Guardrail.MaxChangedRatio == 0 {
		cfg.Guardrail.MaxChangedRatio = 0.30
	}
	if cfg.Analyzer.Radon == "" {
		cfg.Analyzer.Radon = "radon"
	}
	if cfg.Analyzer.Flake8 == "" {
		cfg.Analyzer.Flake8 = "flake8"
	}
	if cfg.Analyzer.TimeoutRaw == "" {
		cfg.Analyzer.TimeoutRaw = "5m"
	}
	if cfg.Schedule.IntervalRaw == "" {
		cfg.Schedule.IntervalRaw = "168h"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.autofix/autofix.db"
	}
}

func validate(cfg *Config) error {
	if cfg.GitHub.AppID != "" {
		if _, err := cfg.GitHub.AppIDInt(); err != nil {
			return fmt.Errorf("invalid app_id %q: %w", cfg.GitHub.AppID, err)
		}
	}

	if cfg.Providers.LLM.Temperature < 0 || cfg.Providers.LLM.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", cfg.Providers.LLM.Temperature)
	}
	if cfg.Providers.LLM.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", cfg.Providers.LLM.MaxTokens)
	}

	if cfg.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Scoring.MaintainabilityWeight < 0 {
		return fmt.Errorf("maintainability_weight must be >= 0, got %f", cfg.Scoring.MaintainabilityWeight)
	}
	if cfg.Scoring.MaintainabilityThreshold < 0 || cfg.Scoring.MaintainabilityThreshold > 100 {
		return fmt.Errorf("maintainability_threshold must be between 0 and 100, got %f", cfg.Scoring.MaintainabilityThreshold)
	}
	if cfg.Scoring.TargetComplexity < 0 {
		return fmt.Errorf("target_complexity must be >= 0, got %d", cfg.Scoring.TargetComplexity)
	}
	if cfg.Guardrail.MaxChangedLines < 0 {
		return fmt.Errorf("max_changed_lines must be >= 0, got %d", cfg.Guardrail.MaxChangedLines)
	}
	if cfg.Guardrail.MaxChangedRatio <= 0 || cfg.Guardrail.MaxChangedRatio > 1 {
		return fmt.Errorf("max_changed_ratio must be in (0, 1], got %f", cfg.Guardrail.MaxChangedRatio)
	}

	durations := map[string]string{
		"request_timeout":  cfg.Providers.LLM.RequestTimeoutRaw,
		"poll_interval":    cfg.Pipeline.PollIntervalRaw,
		"error_backoff":    cfg.Pipeline.ErrorBackoffRaw,
		"analyzer.timeout": cfg.Analyzer.TimeoutRaw,
	}
	for name, raw := range durations {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}
	if _, err := cfg.Schedule.Interval(); err != nil {
		return fmt.Errorf("invalid schedule.interval %q: %w", cfg.Schedule.IntervalRaw, err)
	}

	validLLMTypes := map[string]bool{"openai": true, "ollama": true, "anthropic": true, "gemini": true}
	if !validLLMTypes[cfg.Providers.LLM.Type] {
		return fmt.Errorf("unsupported LLM provider type: %s", cfg.Providers.LLM.Type)
	}

	switch cfg.Queue.Backend {
	case "sqlite":
	case "redis", "postgres":
		if cfg.Queue.URL == "" {
			return fmt.Errorf("queue.url is required for the %s backend", cfg.Queue.Backend)
		}
	default:
		return fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
	if cfg.Queue.AnalysisQueue == cfg.Queue.FixQueue {
		return fmt.Errorf("analysis_queue and fix_queue must differ, both are %q", cfg.Queue.FixQueue)
	}

	return nil
}

// RequireDelivery checks the settings needed before the pipeline loops may
// start: App credentials and, for hosted providers, an API key.
func (c *Config) RequireDelivery() error {
	if !c.GitHub.HasCredentials() {
		return fmt.Errorf("github.app_id and github.private_key or github.private_key_path are required")
	}
	if c.Providers.LLM.Type != "ollama" && c.Providers.LLM.APIKey == "" {
		return fmt.Errorf("providers.llm.api_key is required for %s", c.Providers.LLM.Type)
	}
	return nil
}
