// Package openai provides an embedder for the OpenAI /embeddings endpoint
// and any API that mirrors it.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"
	defaultTimeout = 30 * time.Second
)

// Config holds the OpenAI embedder configuration.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

func (c *Config) apiKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv(c.APIKeyEnv)
}

func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("embedder.openai: base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("embedder.openai: dimensions must not be negative")
	}
	return nil
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Embedder calls an OpenAI-compatible embeddings API. It is safe for
// concurrent use.
type Embedder struct {
	cfg    Config
	client *http.Client
	dims   atomic.Int64
}

var _ memory.Embedder = (*Embedder)(nil)

// New returns an embedder for cfg. Unset fields take their defaults.
func New(cfg Config) *Embedder {
	cfg.defaults()
	e := &Embedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	e.dims.Store(int64(cfg.Dimensions))
	return e
}

// Embed implements memory.Embedder. Transport failures, 5xx and 429
// responses and a missing key wrap memory.ErrEmbedderUnavailable.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	key := e.cfg.apiKey()
	if key == "" {
		return nil, fmt.Errorf("%w: embedder.openai: no API key ($%s)", memory.ErrEmbedderUnavailable, e.cfg.APIKeyEnv)
	}

	payload, err := json.Marshal(embeddingRequest{Input: texts, Model: e.cfg.Model, Dimensions: e.cfg.Dimensions})
	if err != nil {
		return nil, fmt.Errorf("embedder.openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedder.openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: embedder.openai: %w", memory.ErrEmbedderUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: embedder.openai: read body: %w", memory.ErrEmbedderUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var decoded embeddingResponse
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 ||
			resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: embedder.openai: HTTP %d: %s", memory.ErrEmbedderUnavailable, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("embedder.openai: HTTP %d: %s", resp.StatusCode, msg)
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("embedder.openai: decode response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedder.openai: got %d embeddings for %d texts",
			memory.ErrEmbedderUnavailable, len(decoded.Data), len(texts))
	}

	sort.Slice(decoded.Data, func(i, j int) bool { return decoded.Data[i].Index < decoded.Data[j].Index })
	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		out[i] = d.Embedding
	}
	e.dims.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}

// Dimensions implements memory.Embedder. It is 0 until the first call
// unless configured.
func (e *Embedder) Dimensions() int { return int(e.dims.Load()) }

// Model implements memory.Embedder.
func (e *Embedder) Model() string { return e.cfg.Model }

// Module exposes the embedder as embedder.openai.
type Module struct {
	config   Config
	embedder *Embedder
	logger   *slog.Logger
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "embedder.openai",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("embedder.openai: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.embedder = New(m.config)
	ctx.RegisterService(memory.ServiceEmbedder, m.embedder)
	if m.config.apiKey() == "" {
		m.logger.Warn("no API key configured, embedding calls will fail", "env", m.config.APIKeyEnv)
	}
	m.logger.Info("openai embedder provisioned", "model", m.config.Model, "base_url", m.config.BaseURL)
	return nil
}

// Secrets returns the API key so the process logger can redact it.
func (m *Module) Secrets() []string {
	return []string{m.config.apiKey()}
}
