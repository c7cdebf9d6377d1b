package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/pkg/app"
)

// initAnswers are the choices collected by `hafiza init`.
type initAnswers struct {
	UserID   string
	Embedder string // hashing, gemini or openai
	Provider string // none, anthropic, gemini or openai_compatible
	BaseURL  string
	Model    string
	Gateway  bool
	Cron     bool
}

func defaultAnswers() initAnswers {
	return initAnswers{
		UserID:   assistant.DefaultUserID,
		Embedder: "hashing",
		Provider: "none",
		Cron:     true,
	}
}

func initCmd() *cobra.Command {
	var (
		output string
		force  bool
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = app.DefaultConfigPath()
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			ans := defaultAnswers()
			if !yes {
				if err := askInit(&ans); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
			}

			if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(output, []byte(renderConfig(ans)), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nCheck it with: hafiza config check %s\n", output, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination (default $XDG_CONFIG_HOME/hafiza/hafiza.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept the offline defaults without prompting")
	return cmd
}

func askInit(ans *initAnswers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User id").
				Description("Owner of the memories written by the CLI and the gateway.").
				Value(&ans.UserID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("user id must not be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Embedder").
				Options(
					huh.NewOption("Offline hashing (no credentials)", "hashing"),
					huh.NewOption("Gemini text-embedding-004", "gemini"),
					huh.NewOption("OpenAI-compatible /embeddings", "openai"),
				).
				Value(&ans.Embedder),
			huh.NewSelect[string]().
				Title("Chat model").
				Options(
					huh.NewOption("None (echo replies)", "none"),
					huh.NewOption("Anthropic Claude", "anthropic"),
					huh.NewOption("Gemini", "gemini"),
					huh.NewOption("OpenAI-compatible", "openai_compatible"),
				).
				Value(&ans.Provider),
		),
		huh.NewGroup(
			huh.NewInput().Title("Base URL").Placeholder("http://localhost:11434/v1").Value(&ans.BaseURL),
			huh.NewInput().Title("Model").Placeholder("llama3.1").Value(&ans.Model),
		).WithHideFunc(func() bool { return ans.Provider != "openai_compatible" }),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable the HTTP API on 127.0.0.1:8080?").Value(&ans.Gateway),
			huh.NewConfirm().Title("Enable background maintenance and memory extraction?").Value(&ans.Cron),
		),
	)
	return form.Run()
}

// renderConfig produces the YAML for ans. Credentials are referenced
// through environment variables, never written.
func renderConfig(ans initAnswers) string {
	var b strings.Builder
	b.WriteString("version: \"1\"\n")
	fmt.Fprintf(&b, "user_id: %q\n\n", strings.TrimSpace(ans.UserID))
	b.WriteString("log:\n  level: info\n  format: text\n\n")
	b.WriteString("memory:\n  topk: 5\n  similarity_threshold: 0.84\n  merge_if_similar: false\n\n")
	b.WriteString("assistant:\n  auto_extract: false\n  stm:\n    max_messages: 20\n\n")
	b.WriteString("modules:\n  memory.sqlite: {}\n")

	switch ans.Embedder {
	case "gemini":
		b.WriteString("  embedder.gemini:\n    api_key_env: GEMINI_API_KEY\n")
	case "openai":
		b.WriteString("  embedder.openai:\n    api_key_env: OPENAI_API_KEY\n")
	default:
		b.WriteString("  embedder.hashing:\n    dimensions: 256\n")
	}

	switch ans.Provider {
	case "anthropic":
		b.WriteString("  provider.anthropic:\n    api_key_env: ANTHROPIC_API_KEY\n")
	case "gemini":
		b.WriteString("  provider.gemini:\n    api_key_env: GEMINI_API_KEY\n")
	case "openai_compatible":
		fmt.Fprintf(&b, "  provider.openai_compatible:\n    base_url: %q\n    model: %q\n    api_key_env: OPENAI_API_KEY\n",
			orDefault(ans.BaseURL, "http://localhost:11434/v1"), orDefault(ans.Model, "llama3.1"))
	}

	if ans.Gateway {
		b.WriteString("  gateway.http:\n    bind: 127.0.0.1:8080\n    auth:\n      bearer_token: ${HAFIZA_TOKEN:-}\n")
	}
	if ans.Cron {
		b.WriteString("  cron.scheduler: {}\n")
	}
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
