// Package anthropic provides an LLM provider backed by the Anthropic
// Messages API through the official Go SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/provider"
)

func init() {
	core.RegisterModule(&Provider{})
}

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "claude-sonnet-4-5-20250929"

// DefaultMaxTokens bounds replies when neither the request nor the
// configuration does. The API requires a value.
const DefaultMaxTokens = 1024

// Config holds the Anthropic provider configuration.
type Config struct {
	APIKey      string        `yaml:"api_key"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

func (c *Config) apiKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv(c.APIKeyEnv)
}

func (c *Config) validate() error {
	if c.apiKey() == "" {
		return fmt.Errorf("provider.anthropic: api_key or $%s is required", c.APIKeyEnv)
	}
	if c.MaxTokens < 0 {
		return errors.New("provider.anthropic: max_tokens must not be negative")
	}
	return nil
}

// Provider is the Anthropic LLM provider.
type Provider struct {
	config Config
	client *sdkanthropic.Client
	logger *slog.Logger
}

// Compile-time interface assertions.
var (
	_ core.Module       = (*Provider)(nil)
	_ core.Configurable = (*Provider)(nil)
	_ core.Provisioner  = (*Provider)(nil)
	_ core.Validator    = (*Provider)(nil)
	_ provider.Provider = (*Provider)(nil)
)

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "provider.anthropic",
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	if err := node.Decode(&p.config); err != nil {
		return fmt.Errorf("anthropic: decode config: %w", err)
	}
	p.config.defaults()
	return nil
}

// Validate implements core.Validator.
func (p *Provider) Validate() error {
	return p.config.validate()
}

// Provision implements core.Provisioner.
func (p *Provider) Provision(ctx *core.AppContext) error {
	p.logger = ctx.Logger
	p.client = newClient(p.config)
	p.logger.Info("anthropic provider provisioned", "model", p.config.Model)
	return nil
}

// newClient builds the SDK client. SDK retries are off: the provider
// chain owns failover.
func newClient(cfg Config) *sdkanthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.apiKey()),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdkanthropic.NewClient(opts...)
	return &client
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	if p.client == nil {
		return provider.CompletionResponse{}, fmt.Errorf("%w: anthropic not provisioned", provider.ErrProviderDown)
	}

	params, err := convertRequest(req, p.config)
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return provider.CompletionResponse{}, ctx.Err()
		}
		return provider.CompletionResponse{}, mapError(err)
	}
	return convertResponse(msg), nil
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.config.Model
}

// Secrets returns the API key so the process logger can redact it.
func (p *Provider) Secrets() []string {
	return []string{p.config.apiKey()}
}
