// Package gemini provides an embedder backed by Google's text embedding
// models through the generative-ai-go SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "text-embedding-004"

// maxBatch is the largest batch the API accepts in one call.
const maxBatch = 100

// Config holds the Gemini embedder configuration.
type Config struct {
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *Config) apiKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv(c.APIKeyEnv)
}

// batchEmbedder is the part of the SDK the embedder uses.
type batchEmbedder interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder embeds texts with a Gemini embedding model. It is safe for
// concurrent use.
type Embedder struct {
	model   string
	backend batchEmbedder
	dims    atomic.Int64
}

var _ memory.Embedder = (*Embedder)(nil)

// Embed implements memory.Embedder. Inputs larger than one API batch are
// split across several calls.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := e.backend.embedBatch(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, mapError(err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: embedder.gemini: got %d embeddings for %d texts",
				memory.ErrEmbedderUnavailable, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	if len(out) > 0 {
		e.dims.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}

// Dimensions implements memory.Embedder. It is 0 until the first call.
func (e *Embedder) Dimensions() int { return int(e.dims.Load()) }

// Model implements memory.Embedder.
func (e *Embedder) Model() string { return e.model }

// mapError wraps availability failures in memory.ErrEmbedderUnavailable.
// Client errors other than auth and rate limits are returned as is.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusUnauthorized,
			apiErr.Code == http.StatusForbidden,
			apiErr.Code >= 500:
		default:
			return fmt.Errorf("embedder.gemini: %w", err)
		}
	}
	return fmt.Errorf("%w: embedder.gemini: %w", memory.ErrEmbedderUnavailable, err)
}

type sdkBackend struct {
	model *genai.EmbeddingModel
}

func (b sdkBackend) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := b.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := b.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		out = append(out, emb.Values)
	}
	return out, nil
}

// Module exposes the embedder as embedder.gemini.
type Module struct {
	config   Config
	client   *genai.Client
	embedder *Embedder
	logger   *slog.Logger
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "embedder.gemini",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("embedder.gemini: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Validate implements core.Validator. A missing key is a configuration
// error rather than a runtime one.
func (m *Module) Validate() error {
	if m.config.apiKey() == "" {
		return fmt.Errorf("%w: embedder.gemini: api_key or $%s is required",
			memory.ErrEmbedderUnavailable, m.config.APIKeyEnv)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	client, err := genai.NewClient(context.Background(),
		option.WithAPIKey(m.config.apiKey()),
		option.WithHTTPClient(&http.Client{Timeout: m.config.Timeout}),
	)
	if err != nil {
		return fmt.Errorf("embedder.gemini: new client: %w", err)
	}
	m.client = client
	m.embedder = &Embedder{model: m.config.Model, backend: sdkBackend{model: client.EmbeddingModel(m.config.Model)}}
	ctx.RegisterService(memory.ServiceEmbedder, m.embedder)
	m.logger.Info("gemini embedder provisioned", "model", m.config.Model)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Secrets returns the API key so the process logger can redact it.
func (m *Module) Secrets() []string {
	return []string{m.config.apiKey()}
}
