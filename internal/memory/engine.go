package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/hafiza/internal/similarity"
)

const tracerName = "github.com/flemzord/hafiza/internal/memory"

// Indexer mirrors memory writes into a secondary nearest-neighbour index.
type Indexer interface {
	Index(ctx context.Context, m Memory) error
	Remove(ctx context.Context, id int64) error
}

// Engine is the long-term memory façade: CRUD with validation, global and
// scoped retrieval, context formatting and the novelty-gated upsert.
type Engine struct {
	store    Store
	embedder Embedder
	settings Settings
	gate     *NoveltyGate
	indexer  Indexer
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) EngineOption {
	return func(e *Engine) { e.settings = s }
}

// WithFinder replaces the brute-force nearest-neighbour search used by the
// novelty gate.
func WithFinder(f NearestFinder) EngineOption {
	return func(e *Engine) { e.gate.finder = f }
}

// WithIndexer registers a secondary index kept in sync with writes.
func WithIndexer(ix Indexer) EngineOption {
	return func(e *Engine) { e.indexer = ix }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine over store and embedder.
func NewEngine(store Store, embedder Embedder, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbedderUnavailable)
	}

	e := &Engine{
		store:    store,
		embedder: embedder,
		settings: DefaultSettings(),
		observer: nopObserver{},
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer(tracerName),
	}
	e.gate = &NoveltyGate{writer: e, finder: BruteForceFinder{Store: store}, embedder: embedder}
	for _, opt := range opts {
		opt(e)
	}
	e.gate.logger = e.logger
	e.gate.indexer = e.indexer
	if err := e.settings.Validate(); err != nil {
		return nil, fmt.Errorf("memory: settings: %w", err)
	}
	return e, nil
}

// Settings returns the engine defaults.
func (e *Engine) Settings() Settings { return e.settings }

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

// Embedder returns the embedder used for queries and rewrites.
func (e *Engine) Embedder() Embedder { return e.embedder }

// Insert validates, normalizes and stores a memory.
func (e *Engine) Insert(ctx context.Context, n NewMemory) (int64, error) {
	n = n.Normalized()
	if err := n.Validate(); err != nil {
		return 0, err
	}
	n.Embedding = similarity.NormalizeVec(n.Embedding)
	if err := e.checkDimension(ctx, n.UserID, len(n.Embedding)); err != nil {
		return 0, err
	}

	id, err := e.store.Insert(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("memory: insert: %w", err)
	}
	e.reindex(ctx, id)
	return id, nil
}

// Get returns the memory with the given id.
func (e *Engine) Get(ctx context.Context, id int64) (Memory, bool, error) {
	m, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return Memory{}, false, fmt.Errorf("memory: get %d: %w", id, err)
	}
	return m, ok, nil
}

// UpdateText replaces the text and embedding of a memory. A missing id is a no-op.
func (e *Engine) UpdateText(ctx context.Context, id int64, text string, embedding []float32) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}

	existing, ok, err := e.Get(ctx, id)
	if err != nil || !ok {
		return err
	}
	if existing.Dim != 0 && existing.Dim != len(embedding) {
		return fmt.Errorf("%w: memory %d has %d, got %d", ErrDimensionMismatch, id, existing.Dim, len(embedding))
	}

	if err := e.store.UpdateText(ctx, id, text, similarity.NormalizeVec(embedding)); err != nil {
		return fmt.Errorf("memory: update %d: %w", id, err)
	}
	e.reindex(ctx, id)
	return nil
}

// Delete removes a memory. A missing id is a no-op.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("memory: delete %d: %w", id, err)
	}
	if e.indexer != nil {
		if err := e.indexer.Remove(ctx, id); err != nil {
			e.logger.Warn("index remove failed", "id", id, "error", err)
		}
	}
	return nil
}

// Remember embeds n.Text and stores it. With opts it goes through the
// novelty gate, otherwise it is inserted unconditionally.
func (e *Engine) Remember(ctx context.Context, n NewMemory, opts *NoveltyOptions) (int64, UpsertOutcome, error) {
	// Validate everything but the embedding before paying for one.
	probe := n
	probe.Embedding = []float32{1}
	if err := probe.Validate(); err != nil {
		return 0, "", err
	}
	emb, err := EmbedOne(ctx, e.embedder, strings.TrimSpace(n.Text))
	if err != nil {
		return 0, "", fmt.Errorf("memory: embed: %w", err)
	}
	n.Embedding = emb
	if opts != nil {
		return e.UpsertIfNovel(ctx, n, *opts)
	}
	id, err := e.Insert(ctx, n)
	if err != nil {
		return 0, "", err
	}
	return id, OutcomeInserted, nil
}

// Rewrite embeds text and replaces the memory's text with it.
func (e *Engine) Rewrite(ctx context.Context, id int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	emb, err := EmbedOne(ctx, e.embedder, strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}
	return e.UpdateText(ctx, id, text, emb)
}

// UpsertIfNovel writes n unless a sufficiently similar memory exists.
func (e *Engine) UpsertIfNovel(ctx context.Context, n NewMemory, opts NoveltyOptions) (id int64, outcome UpsertOutcome, err error) {
	ctx, span := e.tracer.Start(ctx, "memory.UpsertIfNovel", trace.WithAttributes(
		attribute.String("memory.user_id", n.UserID),
		attribute.String("memory.kind", string(n.Kind)),
		attribute.Float64("memory.threshold", opts.Threshold),
	))
	defer func() {
		span.SetAttributes(attribute.String("memory.outcome", string(outcome)))
		endSpan(span, err)
	}()

	id, outcome, err = e.gate.Upsert(ctx, n, opts)
	if err == nil {
		e.observer.ObserveUpsert(outcome)
	}
	return id, outcome, err
}

// Search ranks the user's memories against query and returns the top
// opts.TopK hits, every one tagged global.
func (e *Engine) Search(ctx context.Context, userID, query string, opts SearchOptions) (hits []Hit, err error) {
	ctx, span := e.startSearch(ctx, "memory.Search", userID)
	start := time.Now()
	defer func() {
		e.observer.ObserveSearch("global", time.Since(start), len(hits), err)
		endSpan(span, err)
	}()

	if userID == "" {
		return nil, ErrEmptyUser
	}

	cands, err := Prefilter(ctx, e.store, userID, query, Scope{}, opts.TopN)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 || opts.TopK <= 0 {
		return []Hit{}, nil
	}

	q, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	pool := e.score(q, cands, opts.Alpha, opts.Beta, ScopeGlobal)
	return rankHits(pool, opts.TopK), nil
}

// SearchScoped ranks a local pool restricted to opts.ConvID and an
// unrestricted global pool separately, weights each pool, keeps the top-k of
// each and merges them by id keeping the higher score.
func (e *Engine) SearchScoped(ctx context.Context, userID, query string, opts ScopedOptions) (hits []Hit, err error) {
	ctx, span := e.startSearch(ctx, "memory.SearchScoped", userID)
	span.SetAttributes(attribute.String("memory.conv_id", opts.ConvID))
	start := time.Now()
	defer func() {
		e.observer.ObserveSearch("scoped", time.Since(start), len(hits), err)
		endSpan(span, err)
	}()

	if userID == "" {
		return nil, ErrEmptyUser
	}

	var local []Candidate
	if opts.ConvID != "" {
		local, err = Prefilter(ctx, e.store, userID, query, Scope{ConvID: opts.ConvID}, opts.TopN)
		if err != nil {
			return nil, err
		}
	}
	global, err := Prefilter(ctx, e.store, userID, query, Scope{}, opts.TopN)
	if err != nil {
		return nil, err
	}
	if len(local) == 0 && len(global) == 0 {
		return []Hit{}, nil
	}

	q, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	localHits := e.score(q, local, opts.Alpha, opts.Beta, ScopeLocal)
	weightHits(localHits, opts.WLocal)
	globalHits := e.score(q, global, opts.Alpha, opts.Beta, ScopeGlobal)
	weightHits(globalHits, opts.WGlobal)

	merged := mergeByID(rankHits(localHits, opts.TopKLocal), rankHits(globalHits, opts.TopKGlobal))
	sortHits(merged)
	return merged, nil
}

// RetrieveHits runs the scoped or global search, removes hits whose
// normalized text repeats, truncates to opts.TopK and falls back to a global
// search when nothing is left.
func (e *Engine) RetrieveHits(ctx context.Context, userID, query string, opts ContextOptions) ([]Hit, error) {
	var hits []Hit
	var err error
	if opts.ConvID != "" {
		hits, err = e.SearchScoped(ctx, userID, query, opts.scoped())
	} else {
		hits, err = e.Search(ctx, userID, query, opts.search(overfetch(opts.TopK)))
	}
	if err != nil {
		return nil, err
	}

	out := truncate(DedupHits(hits), opts.TopK)
	if len(out) > 0 || opts.ConvID == "" {
		return out, nil
	}

	fallback, err := e.Search(ctx, userID, query, opts.search(overfetch(max(opts.TopK, opts.TopKGlobal))))
	if err != nil {
		return nil, err
	}
	out = appendNovel(out, fallback)
	limit := opts.TopK
	if limit <= 0 {
		limit = opts.TopKGlobal
	}
	return truncate(out, limit), nil
}

// RetrieveContext returns the formatted context lines for query.
func (e *Engine) RetrieveContext(ctx context.Context, userID, query string, opts ContextOptions) ([]string, error) {
	hits, err := e.RetrieveHits(ctx, userID, query, opts)
	if err != nil {
		e.logger.Warn("memory retrieval failed", "user_id", userID, "error", err)
		return nil, err
	}
	return FormatLines(hits), nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q, err := EmbedOne(ctx, e.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	return similarity.NormalizeVec(q), nil
}

func (e *Engine) score(q []float32, cands []Candidate, alpha, beta float64, scope string) []Hit {
	hits, skipped := Scorer{Alpha: alpha, Beta: beta}.Score(q, cands, scope)
	if skipped > 0 {
		e.observer.ObserveSkippedDimension(skipped)
		e.logger.Warn("skipped memories with mismatched embedding dimension",
			"skipped", skipped, "query_dim", len(q))
	}
	return hits
}

func (e *Engine) checkDimension(ctx context.Context, userID string, dim int) error {
	existing, ok, err := e.store.Dimension(ctx, userID)
	if err != nil {
		return fmt.Errorf("memory: dimension: %w", err)
	}
	if ok && existing != dim {
		return fmt.Errorf("%w: corpus of %s has %d, got %d", ErrDimensionMismatch, userID, existing, dim)
	}
	return nil
}

func (e *Engine) reindex(ctx context.Context, id int64) {
	if e.indexer == nil {
		return
	}
	m, ok, err := e.store.Get(ctx, id)
	if err == nil && ok {
		err = e.indexer.Index(ctx, m)
	}
	if err != nil {
		e.logger.Warn("index update failed", "id", id, "error", err)
	}
}

func (e *Engine) startSearch(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("memory.user_id", userID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// mergeByID combines two ranked pools. An id present in both keeps the
// instance with the higher score, the first pool winning ties.
func mergeByID(first, second []Hit) []Hit {
	pos := make(map[int64]int, len(first)+len(second))
	out := make([]Hit, 0, len(first)+len(second))
	for _, pool := range [][]Hit{first, second} {
		for _, h := range pool {
			if i, ok := pos[h.ID]; ok {
				if h.Score > out[i].Score {
					out[i] = h
				}
				continue
			}
			pos[h.ID] = len(out)
			out = append(out, h)
		}
	}
	return out
}

// overfetch doubles k so that hits dropped by dedup can be replaced. It
// saturates instead of overflowing.
func overfetch(k int) int {
	if k > math.MaxInt/2 {
		return math.MaxInt
	}
	return 2 * k
}

func truncate(hits []Hit, k int) []Hit {
	if k > 0 && len(hits) > k {
		return hits[:k]
	}
	return hits
}
