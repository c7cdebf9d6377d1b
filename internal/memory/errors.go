package memory

import "errors"

// Sentinel errors for memory operations.
var (
	// ErrInvalidKind indicates a kind outside preference, profile, fact and note.
	ErrInvalidKind = errors.New("memory: invalid kind")

	// ErrEmptyText indicates a memory without text.
	ErrEmptyText = errors.New("memory: empty text")

	// ErrEmptyUser indicates an operation without a user id.
	ErrEmptyUser = errors.New("memory: empty user id")

	// ErrEmptyEmbedding indicates a write without an embedding vector.
	ErrEmptyEmbedding = errors.New("memory: empty embedding")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the rest of the user's corpus.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrEmbedderUnavailable indicates the embedding backend is unreachable
	// or misconfigured. Embedders wrap it.
	ErrEmbedderUnavailable = errors.New("memory: embedder unavailable")

	// ErrNoStore indicates an engine built without a store.
	ErrNoStore = errors.New("memory: no store configured")
)
