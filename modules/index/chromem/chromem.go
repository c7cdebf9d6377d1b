// Package chromem mirrors memories into an embedded chromem-go vector
// database and answers nearest-neighbour lookups for the novelty gate.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/similarity"
)

func init() {
	core.RegisterModule(&Module{})
}

const warmupPage = 500

// Index keeps one chromem collection per user and embedding dimension.
// It implements memory.NearestFinder and memory.Indexer.
type Index struct {
	db *chromem.DB

	mu    sync.Mutex
	owner map[int64]string // memory id -> collection name
}

var (
	_ memory.NearestFinder = (*Index)(nil)
	_ memory.Indexer       = (*Index)(nil)
)

// NewIndex returns an in-memory index.
func NewIndex() *Index {
	return newIndex(chromem.NewDB())
}

// NewPersistentIndex returns an index persisted under dir.
func NewPersistentIndex(dir string, compress bool) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", dir, err)
	}
	return newIndex(db), nil
}

func newIndex(db *chromem.DB) *Index {
	return &Index{db: db, owner: make(map[int64]string)}
}

func collectionName(userID string, dim int) string {
	return fmt.Sprintf("user_%s_d%d", userID, dim)
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }

// Index implements memory.Indexer. A memory whose dimension changed moves
// to the matching collection.
func (ix *Index) Index(ctx context.Context, m memory.Memory) error {
	if len(m.Embedding) == 0 {
		return nil
	}
	name := collectionName(m.UserID, len(m.Embedding))
	if err := ix.Remove(ctx, m.ID); err != nil {
		return err
	}

	col, err := ix.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return fmt.Errorf("chromem: collection %s: %w", name, err)
	}
	doc := chromem.Document{
		ID:        docID(m.ID),
		Content:   m.Text,
		Embedding: similarity.NormalizeVec(m.Embedding),
		Metadata: map[string]string{
			"kind":       string(m.Kind),
			"conv_scope": m.ConvScope,
			"created_at": m.CreatedAt.UTC().Format(memory.TimeLayout),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: add %d: %w", m.ID, err)
	}

	ix.mu.Lock()
	ix.owner[m.ID] = name
	ix.mu.Unlock()
	return nil
}

// Remove implements memory.Indexer. An id this process never indexed may
// still sit in a collection loaded from disk, so every collection is swept.
func (ix *Index) Remove(ctx context.Context, id int64) error {
	ix.mu.Lock()
	name, ok := ix.owner[id]
	delete(ix.owner, id)
	ix.mu.Unlock()

	cols := ix.db.ListCollections()
	if ok {
		col := ix.db.GetCollection(name, nil)
		if col == nil {
			return nil
		}
		cols = map[string]*chromem.Collection{name: col}
	}
	for _, col := range cols {
		if err := col.Delete(ctx, nil, nil, docID(id)); err != nil {
			return fmt.Errorf("chromem: delete %d: %w", id, err)
		}
	}
	return nil
}

// Clear drops every collection, including the files of a persistent index.
func (ix *Index) Clear(context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.db.Reset(); err != nil {
		return fmt.Errorf("chromem: clear: %w", err)
	}
	ix.owner = make(map[int64]string)
	return nil
}

// FindMostSimilar implements memory.NearestFinder. The whole collection of
// the user is searched, so limit is ignored.
func (ix *Index) FindMostSimilar(ctx context.Context, userID string, embedding []float32, _ int) (int64, float32, bool, error) {
	col := ix.db.GetCollection(collectionName(userID, len(embedding)), nil)
	if col == nil || col.Count() == 0 {
		return 0, 0, false, nil
	}

	res, err := col.QueryEmbedding(ctx, similarity.NormalizeVec(embedding), 1, nil, nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("chromem: query: %w", err)
	}
	if len(res) == 0 {
		return 0, 0, false, nil
	}
	id, err := strconv.ParseInt(res[0].ID, 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("chromem: bad document id %q: %w", res[0].ID, err)
	}
	return id, res[0].Similarity, true, nil
}

// Len returns the number of indexed memories.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.owner)
}

// Warm rebuilds the index from every memory of store, page by page.
// Documents left on disk by an earlier run are dropped first, so ids the
// store no longer holds cannot be returned as neighbours.
func (ix *Index) Warm(ctx context.Context, store memory.Store) (int, error) {
	if err := ix.Clear(ctx); err != nil {
		return 0, err
	}
	var (
		after int64
		n     int
	)
	for {
		page, err := store.List(ctx, memory.ListOptions{AfterID: after, Limit: warmupPage})
		if err != nil {
			return n, fmt.Errorf("chromem: warm: %w", err)
		}
		for _, m := range page {
			if err := ix.Index(ctx, m); err != nil {
				return n, err
			}
			n++
		}
		if len(page) < warmupPage {
			return n, nil
		}
		after = page[len(page)-1].ID
	}
}

// Config holds the index.chromem configuration.
type Config struct {
	// Persist stores the index on disk under Path instead of rebuilding it
	// from the memory store at every start.
	Persist  bool   `yaml:"persist"`
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// Module exposes the index as index.chromem.
type Module struct {
	config Config
	index  *Index
	appCtx *core.AppContext
	logger *slog.Logger
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
)

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "index.chromem",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("chromem: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger

	if m.config.Persist {
		path := m.config.Path
		if path == "" {
			path = filepath.Join(ctx.DataDir, "chromem")
		}
		ix, err := NewPersistentIndex(path, m.config.Compress)
		if err != nil {
			return err
		}
		m.index = ix
	} else {
		m.index = NewIndex()
	}

	ctx.RegisterService(memory.ServiceFinder, m.index)
	ctx.RegisterService(memory.ServiceIndexer, m.index)
	m.logger.Info("chromem index provisioned", "persist", m.config.Persist)
	return nil
}

// Start implements core.Starter. It rebuilds the index from the memory
// store, which is resolved lazily because it may be provisioned later.
func (m *Module) Start() error {
	store, err := core.LookupService[memory.Store](m.appCtx, memory.ServiceStore)
	if err != nil {
		return fmt.Errorf("chromem: %w", err)
	}
	n, err := m.index.Warm(context.Background(), store)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	m.logger.Info("chromem index warmed", "memories", n, "collections", len(m.index.db.ListCollections()))
	return nil
}

// Index returns the provisioned index.
func (m *Module) Index() *Index { return m.index }
