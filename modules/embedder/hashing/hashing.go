// Package hashing implements an offline embedder that hashes character
// trigrams into a fixed number of buckets. It needs no credentials and is
// deterministic, so it serves as the default embedder and in tests.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/similarity"
)

func init() {
	core.RegisterModule(&Module{})
}

// DefaultDimensions is the vector length when none is configured.
const DefaultDimensions = 256

// Embedder hashes the lower-cased character trigrams of a text, plus its
// whole words, into Dimensions buckets and L2-normalizes the counts.
type Embedder struct {
	dims int
}

var _ memory.Embedder = (*Embedder)(nil)

// New returns an embedder with dims buckets. Non-positive dims use
// DefaultDimensions.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Embed implements memory.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// Dimensions implements memory.Embedder.
func (e *Embedder) Dimensions() int { return e.dims }

// Model implements memory.Embedder.
func (e *Embedder) Model() string { return fmt.Sprintf("hashing-trigram-%d", e.dims) }

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		v[e.bucket("w:"+word)] += 0.5

		runes := []rune(" " + word + " ")
		for i := 0; i+3 <= len(runes); i++ {
			v[e.bucket(string(runes[i:i+3]))]++
		}
	}
	return similarity.NormalizeVec(v)
}

func (e *Embedder) bucket(feature string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum32() % uint32(e.dims))
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Config holds the hashing embedder configuration.
type Config struct {
	Dimensions int `yaml:"dimensions"`
}

// Module exposes the hashing embedder as embedder.hashing.
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
		ID:  "embedder.hashing",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("hashing: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.embedder = New(m.config.Dimensions)
	ctx.RegisterService(memory.ServiceEmbedder, m.embedder)
	m.logger.Info("hashing embedder provisioned", "dimensions", m.embedder.Dimensions())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Dimensions < 0 {
		return fmt.Errorf("hashing: dimensions must be non-negative, got %d", m.config.Dimensions)
	}
	return nil
}

// Embedder returns the provisioned embedder.
func (m *Module) Embedder() memory.Embedder { return m.embedder }
