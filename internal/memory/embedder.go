package memory

import (
	"context"
	"fmt"
)

// Embedder turns texts into fixed-length unit vectors, one per input, in
// order. Implementations wrap ErrEmbedderUnavailable when the backend is
// unreachable or misconfigured.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length, or 0 when unknown until the
	// first call.
	Dimensions() int

	// Model identifies the embedding model.
	Model() string
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if e == nil {
		return nil, ErrEmbedderUnavailable
	}
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", ErrEmbedderUnavailable, len(vecs))
	}
	return vecs[0], nil
}
