package memory

import (
	"context"
)

// Store persists memories and serves prefilter candidates.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert stores a new memory and returns its id. The memory has already
	// been validated and normalized by the caller.
	Insert(ctx context.Context, m NewMemory) (int64, error)

	// Get returns the memory with the given id. A missing id yields false
	// and no error.
	Get(ctx context.Context, id int64) (Memory, bool, error)

	// UpdateText replaces text and embedding together. A missing id is a no-op.
	UpdateText(ctx context.Context, id int64, text string, embedding []float32) error

	// Delete removes a memory. A missing id is a no-op.
	Delete(ctx context.Context, id int64) error

	// TextCandidates returns up to limit memories of userID matching the
	// prefix query built by FTSQuery. An empty query yields no candidates.
	TextCandidates(ctx context.Context, userID, ftsQuery string, scope Scope, limit int) ([]Candidate, error)

	// RecentCandidates returns up to limit memories of userID, newest first.
	RecentCandidates(ctx context.Context, userID string, scope Scope, limit int) ([]Candidate, error)

	// List returns memories in ascending id order. An empty user id lists
	// every user.
	List(ctx context.Context, opts ListOptions) ([]Memory, error)

	// CountByUser returns how many memories userID owns.
	CountByUser(ctx context.Context, userID string) (int, error)

	// Dimension returns the embedding dimension of the user's newest memory.
	// The boolean is false when the user has no memories.
	Dimension(ctx context.Context, userID string) (int, bool, error)
}

// ListOptions filters Store.List.
type ListOptions struct {
	UserID  string
	AfterID int64
	Limit   int // 0 means no limit
}
