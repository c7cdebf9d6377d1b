package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flemzord/hafiza/internal/similarity"
)

// UpsertOutcome reports what UpsertIfNovel did.
type UpsertOutcome string

// UpsertOutcome values.
const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeMerged    UpsertOutcome = "merged"
	OutcomeDuplicate UpsertOutcome = "duplicate"
)

// MergeSeparator joins merged memory texts.
const MergeSeparator = " | "

// NearestFinder locates the memory of userID most similar to a normalized
// embedding. limit bounds how many recent memories are considered; found is
// false when the user has none.
type NearestFinder interface {
	FindMostSimilar(ctx context.Context, userID string, embedding []float32, limit int) (id int64, score float32, found bool, err error)
}

// BruteForceFinder scans the user's most recent memories linearly.
type BruteForceFinder struct {
	Store Store
}

var _ NearestFinder = BruteForceFinder{}

// FindMostSimilar implements NearestFinder. Memories with a different
// embedding dimension are ignored. On equal scores the newer memory wins.
func (f BruteForceFinder) FindMostSimilar(ctx context.Context, userID string, embedding []float32, limit int) (int64, float32, bool, error) {
	cands, err := f.Store.RecentCandidates(ctx, userID, Scope{}, limit)
	if err != nil {
		return 0, 0, false, fmt.Errorf("memory: nearest: %w", err)
	}

	q := similarity.NormalizeVec(embedding)
	var (
		bestID    int64
		bestScore float32
		found     bool
	)
	for _, c := range cands {
		if len(c.Embedding) != len(q) {
			continue
		}
		s, _ := similarity.Dot(q, similarity.NormalizeVec(c.Embedding))
		if !found || s > bestScore {
			bestID, bestScore, found = c.ID, s, true
		}
	}
	return bestID, bestScore, found, nil
}

// Writer is the write surface the novelty gate needs. Engine implements it.
type Writer interface {
	Insert(ctx context.Context, n NewMemory) (int64, error)
	Get(ctx context.Context, id int64) (Memory, bool, error)
	UpdateText(ctx context.Context, id int64, text string, embedding []float32) error
}

// NoveltyGate keeps near-duplicate memories out of the store.
type NoveltyGate struct {
	writer   Writer
	finder   NearestFinder
	embedder Embedder
	indexer  Indexer // optional; refreshed when the finder reports a stale neighbour
	logger   *slog.Logger
}

// NewNoveltyGate builds a gate. embedder re-embeds merged texts.
func NewNoveltyGate(w Writer, f NearestFinder, e Embedder, logger *slog.Logger) *NoveltyGate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NoveltyGate{writer: w, finder: f, embedder: e, logger: logger}
}

// SetIndexer registers the index to refresh when the finder reports a
// neighbour the store no longer backs.
func (g *NoveltyGate) SetIndexer(ix Indexer) { g.indexer = ix }

// Upsert compares n with the nearest recent memory of the same user. At or
// above opts.Threshold nothing new is stored: the existing id is returned,
// after appending n.Text to it when opts.MergeIfSimilar is set and the text
// is not already contained. A failed merge falls back to a plain insert.
// Below the threshold n is inserted.
//
// The finder may be an index that lags the store, so its answer is checked
// against the stored row before n is dropped or merged.
func (g *NoveltyGate) Upsert(ctx context.Context, n NewMemory, opts NoveltyOptions) (int64, UpsertOutcome, error) {
	n = n.Normalized()
	if err := n.Validate(); err != nil {
		return 0, "", err
	}

	q := similarity.NormalizeVec(n.Embedding)
	id, score, found, err := g.finder.FindMostSimilar(ctx, n.UserID, q, opts.RecentLimit)
	if err != nil {
		return 0, "", err
	}

	if found && float64(score) >= opts.Threshold {
		existing, live, err := g.confirm(ctx, id, n.UserID, q, opts.Threshold)
		if err != nil {
			return 0, "", err
		}
		switch {
		case !live:
			g.logger.Warn("nearest memory is stale, inserting instead", "id", id, "score", score)
		case !opts.MergeIfSimilar:
			return id, OutcomeDuplicate, nil
		default:
			outcome, err := g.merge(ctx, existing, n.Text)
			if err == nil {
				return id, outcome, nil
			}
			g.logger.Warn("merge into similar memory failed, inserting instead",
				"id", id, "score", score, "error", err)
		}
	}

	newID, err := g.writer.Insert(ctx, n)
	if err != nil {
		return 0, "", fmt.Errorf("memory: upsert insert: %w", err)
	}
	return newID, OutcomeInserted, nil
}

// confirm loads the neighbour id and reports whether it is still a memory
// of userID whose stored embedding reaches threshold against q. A stale
// neighbour is dropped from the index, or re-indexed when the id now
// belongs to a different row.
func (g *NoveltyGate) confirm(ctx context.Context, id int64, userID string, q []float32, threshold float64) (Memory, bool, error) {
	m, ok, err := g.writer.Get(ctx, id)
	if err != nil {
		return Memory{}, false, fmt.Errorf("memory: nearest %d: %w", id, err)
	}
	if ok && m.UserID == userID && len(m.Embedding) == len(q) {
		s, _ := similarity.Dot(q, similarity.NormalizeVec(m.Embedding))
		if float64(s) >= threshold {
			return m, true, nil
		}
	}

	if g.indexer != nil {
		if ok {
			err = g.indexer.Index(ctx, m)
		} else {
			err = g.indexer.Remove(ctx, id)
		}
		if err != nil {
			g.logger.Warn("refreshing stale index entry failed", "id", id, "error", err)
		}
	}
	return Memory{}, false, nil
}

func (g *NoveltyGate) merge(ctx context.Context, existing Memory, text string) (UpsertOutcome, error) {
	if strings.Contains(existing.Text, text) {
		return OutcomeDuplicate, nil
	}

	merged := existing.Text + MergeSeparator + text
	emb, err := EmbedOne(ctx, g.embedder, merged)
	if err != nil {
		return "", fmt.Errorf("embed merged text: %w", err)
	}
	if err := g.writer.UpdateText(ctx, existing.ID, merged, emb); err != nil {
		return "", err
	}
	return OutcomeMerged, nil
}
