package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for autofix configuration",
	Long:  `Creates a default configuration file with guided prompts.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// setupAnswers holds the values gathered by init.
type setupAnswers struct {
	AppID       string
	KeyPath     string
	LLMProvider string
	QueueURL    string
	SlackURL    string
	DiscordURL  string
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Welcome to autofix setup!")
	fmt.Fprintln(out, "This will create a configuration file for you.")
	fmt.Fprintln(out)

	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		answer := prompt(reader, out, "Overwrite? [y/N]: ")
		answer = strings.ToLower(answer)
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	a := setupAnswers{
		AppID:       prompt(reader, out, "GitHub App ID (or press Enter to skip): "),
		KeyPath:     prompt(reader, out, "GitHub private key path (or press Enter to skip): "),
		LLMProvider: prompt(reader, out, "LLM provider (openai/anthropic/gemini/ollama) [openai]: "),
		QueueURL:    prompt(reader, out, "Redis or Postgres queue URL (or press Enter for SQLite): "),
		SlackURL:    prompt(reader, out, "Slack webhook URL (or press Enter to skip): "),
		DiscordURL:  prompt(reader, out, "Discord webhook URL (or press Enter to skip): "),
	}
	if a.LLMProvider == "" {
		a.LLMProvider = "openai"
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(buildConfigYAML(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", configPath)
	fmt.Fprintln(out, "Edit the file to add API keys and customize settings.")
	return nil
}

func prompt(r *bufio.Reader, w io.Writer, question string) string {
	fmt.Fprint(w, question)
	answer, _ := r.ReadString('\n')
	return strings.TrimSpace(answer)
}

func buildConfigYAML(a setupAnswers) string {
	var b strings.Builder

	b.WriteString("# autofix configuration\n")
	b.WriteString("# Environment placeholders are read from the environment or a .env file.\n\n")

	b.WriteString("github:\n")
	if a.AppID != "" {
		fmt.Fprintf(&b, "  app_id: %s\n", a.AppID)
	} else {
		b.WriteString("  # app_id: YOUR_APP_ID\n")
	}
	if a.KeyPath != "" {
		fmt.Fprintf(&b, "  private_key_path: %s\n", a.KeyPath)
	} else {
		b.WriteString("  # private_key_path: /path/to/private-key.pem\n")
	}
	b.WriteString("  # webhook_secret: YOUR_WEBHOOK_SECRET\n")
	b.WriteString("  branch_prefix: autofix\n")
	b.WriteString("\n")

	b.WriteString("providers:\n")
	b.WriteString("  llm:\n")
	fmt.Fprintf(&b, "    type: %s\n", a.LLMProvider)
	model, apiKey := llmProviderDefaults(a.LLMProvider)
	fmt.Fprintf(&b, "    model: %s\n", model)
	fmt.Fprintf(&b, "    api_key: %s\n", apiKey)
	b.WriteString("    max_tokens: 2000\n")
	b.WriteString("    request_timeout: 120s\n")
	b.WriteString("\n")

	b.WriteString("queue:\n")
	switch {
	case strings.HasPrefix(a.QueueURL, "redis://"), strings.HasPrefix(a.QueueURL, "rediss://"):
		b.WriteString("  backend: redis\n")
		fmt.Fprintf(&b, "  url: %s\n", a.QueueURL)
	case strings.HasPrefix(a.QueueURL, "postgres://"), strings.HasPrefix(a.QueueURL, "postgresql://"):
		b.WriteString("  backend: postgres\n")
		fmt.Fprintf(&b, "  url: %s\n", a.QueueURL)
	default:
		b.WriteString("  backend: sqlite\n")
	}
	b.WriteString("  analysis_queue: analysis_jobs\n")
	b.WriteString("  fix_queue: fix_jobs\n")
	b.WriteString("\n")

	b.WriteString("pipeline:\n")
	b.WriteString("  poll_interval: 1s\n")
	b.WriteString("  error_backoff: 5s\n")
	b.WriteString("  max_retries: 5\n")
	b.WriteString("  skip_unchanged: true\n")
	b.WriteString("  skip_delivered: true\n")
	b.WriteString("\n")

	b.WriteString("guardrail:\n")
	b.WriteString("  max_changed_lines: 50\n")
	b.WriteString("  max_changed_ratio: 0.30\n")
	b.WriteString("\n")

	b.WriteString("schedule:\n")
	b.WriteString("  interval: 168h\n")
	b.WriteString("\n")

	b.WriteString("notify:\n")
	if a.SlackURL != "" {
		fmt.Fprintf(&b, "  slack_webhook: %s\n", a.SlackURL)
	} else {
		b.WriteString("  # slack_webhook: https://hooks.slack.com/services/...\n")
	}
	if a.DiscordURL != "" {
		fmt.Fprintf(&b, "  discord_webhook: %s\n", a.DiscordURL)
	} else {
		b.WriteString("  # discord_webhook: https://discord.com/api/webhooks/...\n")
	}
	b.WriteString("\n")

	b.WriteString("store:\n")
	b.WriteString("  path: ~/.autofix/autofix.db\n")

	return b.String()
}

// llmProviderDefaults returns the default model and api_key placeholder
// for the given LLM provider type.
func llmProviderDefaults(provider string) (model, apiKey string) {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-20250514", "${ANTHROPIC_API_KEY}"
	case "gemini":
		return "gemini-1.5-pro", "${GEMINI_API_KEY}"
	case "ollama":
		return "codellama", "# not required for ollama"
	default: // openai
		return "o4-mini", "${OPENAI_API_KEY}"
	}
}
