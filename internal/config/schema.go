// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for hafiza.
package config

import (
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/memory"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// UserID is the default user of the CLI, the gateway and the MCP tools.
	UserID string `yaml:"user_id"`

	Log       LogConfig        `yaml:"log"`
	Memory    MemoryConfig     `yaml:"memory"`
	Assistant assistant.Config `yaml:"assistant"`
	MCP       MCPConfig        `yaml:"mcp"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "memory.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level string `yaml:"level"`

	// Format is text, json or pretty.
	Format string `yaml:"format"`
}

// Log formats.
const (
	LogText   = "text"
	LogJSON   = "json"
	LogPretty = "pretty"
)

// MemoryConfig holds the retrieval and novelty defaults plus the
// embedding cache.
type MemoryConfig struct {
	memory.Settings `yaml:",inline"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig sizes the embedding cache.
type CacheConfig struct {
	Disabled   bool  `yaml:"disabled"`
	MaxBytes   int64 `yaml:"max_bytes"`
	MaxEntries int64 `yaml:"max_entries"`
}

// MCPConfig controls the MCP tool server.
type MCPConfig struct {
	ReadOnly bool `yaml:"read_only"`
}

// Default returns a configuration with every default filled in and no
// modules.
func Default() *Config {
	return &Config{
		Version: "1",
		UserID:  assistant.DefaultUserID,
		Log:     LogConfig{Level: "info", Format: LogText},
		Memory:  MemoryConfig{Settings: memory.DefaultSettings()},
	}
}

// EmbedderPrefix starts the ID of every embedder module.
const EmbedderPrefix = "embedder."

// StoreModule is the module that persists memories and transcripts.
const StoreModule = "memory.sqlite"
