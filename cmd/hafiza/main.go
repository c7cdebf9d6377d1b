// Package main is the entry point for the hafiza CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/hafiza/internal/config"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/pkg/app"

	// Compiled-in modules.
	_ "github.com/flemzord/hafiza/internal/cron"
	_ "github.com/flemzord/hafiza/internal/gateway"
	_ "github.com/flemzord/hafiza/internal/telemetry"
	_ "github.com/flemzord/hafiza/modules/embedder/gemini"
	_ "github.com/flemzord/hafiza/modules/embedder/hashing"
	_ "github.com/flemzord/hafiza/modules/embedder/openai"
	_ "github.com/flemzord/hafiza/modules/index/chromem"
	_ "github.com/flemzord/hafiza/modules/memory/sqlite"
	_ "github.com/flemzord/hafiza/modules/provider/anthropic"
	_ "github.com/flemzord/hafiza/modules/provider/gemini"
	_ "github.com/flemzord/hafiza/modules/provider/openai_compatible"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every command that opens the app.
type globalFlags struct {
	config   string
	dataDir  string
	logLevel string
}

func (g *globalFlags) params(pretty bool) app.Params {
	return app.Params{
		ConfigPath: g.config,
		DataDir:    g.dataDir,
		LogLevel:   g.logLevel,
		Pretty:     pretty,
	}
}

// open loads the app for a one-shot command. Logging stays quiet unless
// --log-level asks otherwise.
func (g *globalFlags) open() (*app.App, error) {
	p := g.params(true)
	if p.LogLevel == "" {
		p.LogLevel = "warn"
	}
	return app.Open(p)
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "hafiza",
		Short:         "Long-term memory for a personal assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "Path to configuration file")
	pf.StringVar(&g.dataDir, "data-dir", "", "Data directory (default $XDG_DATA_HOME/hafiza)")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		versionCmd(),
		startCmd(g),
		configCmd(g),
		initCmd(),
		seedCmd(g),
		exportCmd(g),
		resetCmd(g),
		rememberCmd(g),
		searchCmd(g),
		contextCmd(g),
		getCmd(g),
		forgetCmd(g),
		updateCmd(g),
		chatCmd(g),
		mcpCmd(g),
		serviceCmd(g),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hafiza %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start hafiza with all configured modules",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := app.Open(g.params(false))
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
}

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := g.params(true)
			if len(args) == 1 {
				p.ConfigPath = args[0]
			}
			a, err := app.Open(p)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			ids := config.Resolve(a.Config)
			fmt.Fprintf(out, "Configuration OK: %s (%d modules, user %s)\n", a.ConfigPath, len(ids), a.UserID())
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			fmt.Fprintf(out, "Embedder: %s\n", a.Engine.Embedder().Model())
			fmt.Fprintf(out, "Chat model: %s\n", a.Provider.ModelName())
			return nil
		},
	})
	return cmd
}
