// Package app is the shared entry point of the hafiza commands: it loads
// the configuration, builds the modules and assembles the memory engine
// and the assistant on top of them.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/config"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/logging"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/metrics"
	"github.com/flemzord/hafiza/internal/provider"
)

// Params configures Open.
type Params struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// Workspace overrides the default working directory.
	Workspace string

	// LogLevel overrides log.level from the file when non-empty.
	LogLevel string

	// Pretty forces the charmbracelet handler, for interactive commands.
	Pretty bool

	// LogWriter receives log output. Defaults to stderr.
	LogWriter io.Writer
}

// App is a loaded hafiza process. Commands use its components directly;
// `hafiza start` runs it until a signal arrives.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger

	Engine    *memory.Engine
	Chats     chat.Store
	Provider  provider.Provider
	Assistant *assistant.Assistant
	Metrics   *metrics.Metrics

	ctx      *core.AppContext
	core     *core.App
	redactor *logging.Redactor
}

// Open loads and validates the configuration, provisions every module
// and wires the engine. Call Close, or Run, afterwards.
func Open(p Params) (*App, error) {
	cfgPath := p.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := logging.NewRedactor()
	logger := NewLogger(cfg.Log, p, redactor)

	dataDir := p.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: data dir: %w", err)
	}
	workspace := p.Workspace
	if workspace == "" {
		workspace = DefaultWorkspace()
	}

	appCtx := core.NewAppContext(logger, dataDir, workspace).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("config.path", cfgPath)

	a := &App{
		Config:     cfg,
		ConfigPath: cfgPath,
		Logger:     logger,
		ctx:        appCtx,
		core:       core.NewApp(appCtx),
		redactor:   redactor,
	}

	ids := config.Resolve(cfg)
	if err := a.core.LoadModules(ids); err != nil {
		return nil, err
	}
	if err := a.wire(ids); err != nil {
		a.core.Close()
		return nil, err
	}
	return a, nil
}

// Start starts the long-running modules: the gateway, the scheduler and
// the tracer.
func (a *App) Start() error {
	return a.core.Start()
}

// Run starts every module and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	return a.core.Run()
}

// Close releases every module. One-shot commands call it instead of Run.
func (a *App) Close() {
	a.core.Close()
}

// UserID returns the configured default user.
func (a *App) UserID() string {
	return a.Config.UserID
}

// NewLogger builds the process logger from the log section and the
// command-line overrides.
func NewLogger(lc config.LogConfig, p Params, redactor *logging.Redactor) *slog.Logger {
	level := lc.Level
	if p.LogLevel != "" {
		level = p.LogLevel
	}
	return logging.New(logging.Options{
		Level:    logging.ParseLevel(level),
		Pretty:   p.Pretty || lc.Format == config.LogPretty,
		JSON:     lc.Format == config.LogJSON,
		Writer:   p.LogWriter,
		Redactor: redactor,
	})
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/hafiza/hafiza.yaml → ~/.config/hafiza/hafiza.yaml → ./hafiza.yaml
func ResolveConfigPath() (string, error) {
	candidates := []string{DefaultConfigPath(), "hafiza.yaml"}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v); run `hafiza init`", candidates)
}

// DefaultConfigPath is where `hafiza init` writes the configuration.
func DefaultConfigPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		return filepath.Join(xdg, "hafiza", "hafiza.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hafiza", "hafiza.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/hafiza if set, otherwise ~/.local/share/hafiza.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "hafiza")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "hafiza")
}

// DefaultWorkspace returns the current working directory.
func DefaultWorkspace() string {
	dir, _ := os.Getwd()
	return dir
}

// Stop stops the started modules without releasing the others.
func (a *App) Stop() {
	a.core.Stop()
}
