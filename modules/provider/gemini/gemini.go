// Package gemini provides an LLM provider backed by Google's Gemini models
// through the generative-ai-go SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/provider"
)

func init() {
	core.RegisterModule(&Provider{})
}

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// Config holds the Gemini provider configuration.
type Config struct {
	APIKey      string        `yaml:"api_key"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "GEMINI_API_KEY"
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
		return fmt.Errorf("provider.gemini: api_key or $%s is required", c.APIKeyEnv)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("provider.gemini: max_tokens must not be negative")
	}
	return nil
}

// generator sends one conversation to the model. It is the seam between
// the provider and the SDK.
type generator interface {
	generate(ctx context.Context, system *genai.Content, history []*genai.Content, last []genai.Part, settings settings) (*genai.GenerateContentResponse, error)
}

type settings struct {
	maxTokens   int
	temperature *float64
}

// Provider is the Gemini LLM provider.
type Provider struct {
	config Config
	client *genai.Client
	gen    generator
	logger *slog.Logger
}

// Compile-time interface assertions.
var (
	_ core.Module       = (*Provider)(nil)
	_ core.Configurable = (*Provider)(nil)
	_ core.Provisioner  = (*Provider)(nil)
	_ core.Validator    = (*Provider)(nil)
	_ core.Stopper      = (*Provider)(nil)
	_ provider.Provider = (*Provider)(nil)
)

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "provider.gemini",
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	if err := node.Decode(&p.config); err != nil {
		return fmt.Errorf("gemini: decode config: %w", err)
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

	client, err := genai.NewClient(context.Background(),
		option.WithAPIKey(p.config.apiKey()),
		option.WithHTTPClient(&http.Client{Timeout: p.config.Timeout}),
	)
	if err != nil {
		return fmt.Errorf("gemini: new client: %w", err)
	}
	p.client = client
	p.gen = sdkGenerator{client: client, model: p.config.Model}
	p.logger.Info("gemini provider provisioned", "model", p.config.Model)
	return nil
}

// Stop implements core.Stopper.
func (p *Provider) Stop(_ context.Context) error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Complete implements provider.Provider. System messages become the system
// instruction and the final message is sent against the preceding history.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	if p.gen == nil {
		return provider.CompletionResponse{}, fmt.Errorf("%w: gemini not provisioned", provider.ErrProviderDown)
	}

	system, history, last := convertMessages(req.Messages)
	if len(last) == 0 {
		return provider.CompletionResponse{}, errors.New("gemini: request has no user content")
	}

	s := settings{maxTokens: req.MaxTokens, temperature: req.Temperature}
	if s.maxTokens == 0 {
		s.maxTokens = p.config.MaxTokens
	}
	if s.temperature == nil {
		s.temperature = p.config.Temperature
	}

	resp, err := p.gen.generate(ctx, system, history, last, s)
	if err != nil {
		if ctx.Err() != nil {
			return provider.CompletionResponse{}, ctx.Err()
		}
		return provider.CompletionResponse{}, mapError(err)
	}
	return parseResponse(resp), nil
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.config.Model
}

// convertMessages splits msgs into the system instruction, the chat
// history and the parts of the final message. Gemini calls the assistant
// role "model".
func convertMessages(msgs []provider.LLMMessage) (*genai.Content, []*genai.Content, []genai.Part) {
	var (
		systemParts []genai.Part
		turns       []*genai.Content
	)
	for _, m := range msgs {
		switch m.Role {
		case provider.MessageRoleSystem:
			systemParts = append(systemParts, genai.Text(m.Content))
		case provider.MessageRoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	if len(turns) == 0 {
		return system, nil, nil
	}
	last := turns[len(turns)-1]
	return system, turns[:len(turns)-1], last.Parts
}

func parseResponse(resp *genai.GenerateContentResponse) provider.CompletionResponse {
	var out provider.CompletionResponse
	if resp == nil {
		return out
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = provider.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	cand := resp.Candidates[0]
	out.FinishReason = mapFinishReason(cand.FinishReason)
	if cand.Content == nil {
		return out
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out.Content = b.String()
	return out
}

func mapFinishReason(r genai.FinishReason) provider.FinishReason {
	switch r {
	case genai.FinishReasonMaxTokens:
		return provider.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}

// mapError classifies API errors into provider sentinels.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}
	ctxLen := apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "token")
	if class := provider.ClassifyStatus(apiErr.Code, ctxLen); class != nil {
		return fmt.Errorf("%w: %w", class, err)
	}
	return fmt.Errorf("gemini: %w", err)
}

// sdkGenerator talks to the real API.
type sdkGenerator struct {
	client *genai.Client
	model  string
}

func (g sdkGenerator) generate(ctx context.Context, system *genai.Content, history []*genai.Content, last []genai.Part, s settings) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = system
	if s.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(s.maxTokens))
	}
	if s.temperature != nil {
		model.SetTemperature(float32(*s.temperature))
	}

	session := model.StartChat()
	session.History = history
	return session.SendMessage(ctx, last...)
}

// Secrets returns the API key so the process logger can redact it.
func (p *Provider) Secrets() []string {
	return []string{p.config.apiKey()}
}
