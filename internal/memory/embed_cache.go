package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig sizes a CachedEmbedder.
type CacheConfig struct {
	// MaxBytes bounds the total size of cached vectors.
	MaxBytes int64
	// MaxEntries estimates how many texts will be cached. It sizes the
	// admission counters.
	MaxEntries int64
}

// DefaultCacheConfig caches up to 32 MiB of vectors.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxBytes: 32 << 20, MaxEntries: 10_000}
}

// CachedEmbedder memoizes per-text embeddings of an inner Embedder, keyed
// by model and text.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a bounded cache.
func NewCachedEmbedder(inner Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultCacheConfig().MaxBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns cached vectors and embeds only the misses, in one call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(c.key(t)); ok {
			out[i] = slices.Clone(v.([]float32))
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedderUnavailable, len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Set(c.key(missTexts[j]), slices.Clone(vecs[j]), int64(4*len(vecs[j])))
	}
	return out, nil
}

// Dimensions implements Embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Model implements Embedder.
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}

func (c *CachedEmbedder) key(text string) string {
	return c.inner.Model() + "\x00" + text
}
