// Package memorytest provides test helpers for the memory package.
package memorytest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/modules/embedder/hashing"
)

// Epoch is the instant Clock starts at.
var Epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Embedder wraps the hashing embedder with call counting and error injection.
type Embedder struct {
	inner *hashing.Embedder
	calls atomic.Int64

	mu  sync.Mutex
	err error
}

var _ memory.Embedder = (*Embedder)(nil)

// NewEmbedder returns a deterministic 256-dimension test embedder.
func NewEmbedder() *Embedder {
	return &Embedder{inner: hashing.New(hashing.DefaultDimensions)}
}

// Embed implements memory.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.mu.Lock()
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, texts)
}

// Dimensions implements memory.Embedder.
func (e *Embedder) Dimensions() int { return e.inner.Dimensions() }

// Model implements memory.Embedder.
func (e *Embedder) Model() string { return e.inner.Model() }

// Calls returns how many times Embed was called.
func (e *Embedder) Calls() int64 { return e.calls.Load() }

// FailWith makes every later Embed call return err. Pass nil to recover.
func (e *Embedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Vector embeds text or fails the test.
func (e *Embedder) Vector(t testing.TB, text string) []float32 {
	t.Helper()
	v, err := memory.EmbedOne(context.Background(), e.inner, text)
	if err != nil {
		t.Fatalf("embed %q: %v", text, err)
	}
	return v
}

// Env bundles an engine over an in-memory store with a fake clock.
type Env struct {
	Store    *memory.InMemoryStore
	Embedder *Embedder
	Clock    *Clock
	Engine   *memory.Engine
}

// NewEnv builds an Env. Extra options are applied after the defaults.
func NewEnv(t testing.TB, opts ...memory.EngineOption) *Env {
	t.Helper()

	clock := NewClock()
	store := memory.NewInMemoryStore()
	store.SetClock(clock.Now)
	emb := NewEmbedder()

	engine, err := memory.NewEngine(store, emb, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &Env{Store: store, Embedder: emb, Clock: clock, Engine: engine}
}

// Insert embeds text and inserts it through the engine, returning the id.
func (env *Env) Insert(t testing.TB, userID string, kind memory.Kind, text string, tags ...string) int64 {
	t.Helper()
	id, err := env.Engine.Insert(context.Background(), memory.NewMemory{
		UserID:    userID,
		Kind:      kind,
		Text:      text,
		Embedding: env.Embedder.Vector(t, text),
		Tags:      tags,
	})
	if err != nil {
		t.Fatalf("insert %q: %v", text, err)
	}
	return id
}
