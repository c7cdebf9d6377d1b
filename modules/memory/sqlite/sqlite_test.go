package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/chat/chattest"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/provider"
	"github.com/flemzord/hafiza/modules/embedder/hashing"
)

var epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestModule(t *testing.T) *Module {
	t.Helper()

	dir := t.TempDir()
	m := &Module{
		config: Config{
			Path:        filepath.Join(dir, "test.db"),
			BusyTimeout: defaultBusyTimeout,
		},
	}
	m.config.defaults()

	ctx := core.NewAppContext(slog.Default(), dir, dir)

	if err := m.Provision(ctx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	t.Cleanup(func() {
		_ = m.Stop(context.Background())
	})

	return m
}

func openTestDB(t *testing.T, now func() time.Time) *DB {
	t.Helper()
	db, err := Open(t.Context(), Config{Path: filepath.Join(t.TempDir(), "test.db")}, WithClock(now))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func insert(t *testing.T, s *MemoryStore, n memory.NewMemory) int64 {
	t.Helper()
	if n.Embedding == nil {
		n.Embedding = []float32{1, 0}
	}
	n = n.Normalized()
	id, err := s.Insert(t.Context(), n)
	if err != nil {
		t.Fatalf("insert %q: %v", n.Text, err)
	}
	return id
}

func ids(cands []memory.Candidate) []int64 {
	out := make([]int64, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

// --- Memory store tests ---

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, fixedClock(epoch))
	s := db.Memories()
	ctx := t.Context()

	emb := []float32{0.1, -0.2, 0.30000001, 1e-7}
	expires := epoch.Add(30 * 24 * time.Hour)
	id := insert(t, s, memory.NewMemory{
		UserID:    "u1",
		Kind:      memory.KindFact,
		Text:      "Takım: Beşiktaş",
		Embedding: emb,
		Source:    "seed",
		Tags:      []string{"spor", "conv:7"},
		ExpiresAt: &expires,
	})

	got, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !slices.Equal(got.Embedding, emb) {
		t.Errorf("embedding = %v, want %v", got.Embedding, emb)
	}
	if !slices.Equal(got.Tags, []string{"spor", "conv:7", "global"}) {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.Kind != memory.KindFact || got.Source != "seed" || got.ConvScope != "7" || got.Dim != 4 {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, epoch)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}

	if _, ok, err := s.Get(ctx, id+1); ok || err != nil {
		t.Errorf("missing id: ok=%v err=%v", ok, err)
	}
}

func TestMemoryUpdateAndDeleteKeepFTSInSync(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, fixedClock(epoch))
	s := db.Memories()
	ctx := t.Context()

	id := insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "Kahve makinesi bozuk"})

	if err := s.UpdateText(ctx, id, "Çaydanlık bozuk", []float32{0, 1, 0}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _, _ := s.Get(ctx, id)
	if got.Text != "Çaydanlık bozuk" || got.Dim != 3 {
		t.Errorf("after update: %+v", got)
	}

	old, _ := s.TextCandidates(ctx, "u1", memory.FTSQuery("kahve"), memory.Scope{}, 10)
	if len(old) != 0 {
		t.Errorf("old text still indexed: %v", ids(old))
	}
	fresh, _ := s.TextCandidates(ctx, "u1", memory.FTSQuery("çaydanlık"), memory.Scope{}, 10)
	if !slices.Equal(ids(fresh), []int64{id}) {
		t.Errorf("new text not indexed: %v", ids(fresh))
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, id); ok {
		t.Error("memory still present")
	}
	gone, _ := s.TextCandidates(ctx, "u1", memory.FTSQuery("bozuk"), memory.Scope{}, 10)
	if len(gone) != 0 {
		t.Errorf("deleted memory still indexed: %v", ids(gone))
	}

	// Missing ids are no-ops.
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("delete missing: %v", err)
	}
	if err := s.UpdateText(ctx, id, "x", []float32{1}); err != nil {
		t.Errorf("update missing: %v", err)
	}
}

func TestMemoryRejectsInvalidKind(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, fixedClock(epoch))
	_, err := db.Memories().Insert(t.Context(), memory.NewMemory{
		UserID: "u1", Kind: "secret", Text: "x", Embedding: []float32{1},
	})
	if err == nil {
		t.Fatal("expected error for invalid kind")
	}

	// The CHECK constraint guards direct writes as well.
	_, err = db.db.ExecContext(t.Context(),
		"INSERT INTO memories (user_id, kind, text, embedding, dim) VALUES ('u1', 'secret', 'x', x'00000000', 1)")
	if err == nil {
		t.Error("CHECK constraint did not reject kind")
	}
}

func TestTextCandidates(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, fixedClock(epoch))
	s := db.Memories()
	ctx := t.Context()

	pref := insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindPreference, Text: "Kahvemi sütlü severim"})
	insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindFact, Text: "Takım: Beşiktaş"})
	byTag := insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "Kahve sütü bitti", Tags: []string{"conv:7"}})
	bySource := insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "Kahve falı", Source: "chat conv:7"})
	insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "Kahve 70", Tags: []string{"conv:70"}})
	insert(t, s, memory.NewMemory{UserID: "u2", Kind: memory.KindNote, Text: "Kahve sütlü"})

	tests := []struct {
		name  string
		query string
		scope memory.Scope
		limit int
		want  []int64
	}{
		{name: "prefix AND", query: "kahve süt", limit: 10, want: []int64{pref, byTag}},
		{name: "diacritics folded", query: "sut", limit: 10, want: []int64{pref, byTag}},
		{name: "limit", query: "kahve", limit: 1, want: []int64{pref}},
		{name: "scope by tag and source", query: "kahve", scope: memory.Scope{ConvID: "7"}, limit: 10, want: []int64{byTag, bySource}},
		{name: "no tokens", query: "!!", limit: 10, want: []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.TextCandidates(ctx, "u1", memory.FTSQuery(tt.query), tt.scope, tt.limit)
			if err != nil {
				t.Fatalf("text candidates: %v", err)
			}
			if !slices.Equal(ids(got), tt.want) {
				t.Errorf("ids = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestRecentCandidates(t *testing.T) {
	t.Parallel()

	now := epoch
	db := openTestDB(t, func() time.Time { return now })
	s := db.Memories()
	ctx := t.Context()

	first := insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "bir"})
	now = now.Add(24 * time.Hour)
	second := insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "iki", Tags: []string{"conv:3"}})
	now = now.Add(24 * time.Hour)

	got, err := s.RecentCandidates(ctx, "u1", memory.Scope{}, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !slices.Equal(ids(got), []int64{second, first}) {
		t.Fatalf("ids = %v, want newest first", ids(got))
	}
	if got[0].AgeSeconds != 86400 || got[1].AgeSeconds != 2*86400 {
		t.Errorf("ages = %v %v", got[0].AgeSeconds, got[1].AgeSeconds)
	}

	scoped, _ := s.RecentCandidates(ctx, "u1", memory.Scope{ConvID: "3"}, 10)
	if !slices.Equal(ids(scoped), []int64{second}) {
		t.Errorf("scoped ids = %v", ids(scoped))
	}
}

func TestListCountDimension(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, fixedClock(epoch))
	s := db.Memories()
	ctx := t.Context()

	for i := range 3 {
		insert(t, s, memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: fmt.Sprintf("not %d", i)})
	}
	insert(t, s, memory.NewMemory{UserID: "u2", Kind: memory.KindNote, Text: "başka", Embedding: []float32{1, 0, 0}})

	page, err := s.List(ctx, memory.ListOptions{UserID: "u1", AfterID: 1, Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != 2 {
		t.Errorf("page = %+v", page)
	}
	all, _ := s.List(ctx, memory.ListOptions{})
	if len(all) != 4 {
		t.Errorf("all = %d, want 4", len(all))
	}

	if n, _ := s.CountByUser(ctx, "u1"); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	if dim, ok, _ := s.Dimension(ctx, "u2"); !ok || dim != 3 {
		t.Errorf("dimension = %d %v", dim, ok)
	}
	if _, ok, _ := s.Dimension(ctx, "nobody"); ok {
		t.Error("dimension reported for empty corpus")
	}
}

func TestEngineOverSQLite(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, fixedClock(epoch))
	engine, err := memory.NewEngine(db.Memories(), hashing.New(hashing.DefaultDimensions))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ctx := t.Context()

	pref, _, err := engine.Remember(ctx, memory.NewMemory{UserID: "u1", Kind: memory.KindPreference, Text: "Kahvemi sütlü severim"}, nil)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if _, _, err := engine.Remember(ctx, memory.NewMemory{UserID: "u1", Kind: memory.KindFact, Text: "Takım: Beşiktaş"}, nil); err != nil {
		t.Fatalf("remember: %v", err)
	}

	hits, err := engine.Search(ctx, "u1", "kahve süt", engine.Settings().Search())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != pref {
		t.Fatalf("hits = %+v, want preference first", hits)
	}

	novelty := engine.Settings().Novelty()
	id, outcome, err := engine.Remember(ctx, memory.NewMemory{UserID: "u1", Kind: memory.KindPreference, Text: "Kahvemi sütlü severim"}, &novelty)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id != pref || outcome != memory.OutcomeDuplicate {
		t.Errorf("upsert = %d %q, want %d duplicate", id, outcome, pref)
	}
	if n, _ := db.Memories().CountByUser(ctx, "u1"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	scoped, err := engine.SearchScoped(ctx, "u1", "kahve süt", engine.Settings().Scoped("7"))
	if err != nil {
		t.Fatalf("scoped: %v", err)
	}
	again, _ := engine.Search(ctx, "u1", "kahve süt", engine.Settings().Search())
	if len(scoped) != len(again) || scoped[0].ID != again[0].ID || scoped[0].Score != again[0].Score {
		t.Errorf("scoped %+v differs from global %+v", scoped, again)
	}
}

// --- Chat store tests ---

func TestChatStore(t *testing.T) {
	t.Parallel()

	chattest.Run(t, func(t *testing.T, now func() time.Time) chat.Store {
		return openTestDB(t, now).Chats()
	})
}

// --- Concurrency tests ---

func TestConcurrentInsertAndSearch(t *testing.T) {
	m := newTestModule(t)
	s := m.DB().Memories()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx, memory.NewMemory{
				UserID: "u1", Kind: memory.KindNote,
				Text: fmt.Sprintf("concurrent document %d", i), Embedding: []float32{1},
			})
			if err != nil {
				t.Errorf("concurrent insert: %v", err)
			}
		}()
	}
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TextCandidates(ctx, "u1", "concurrent*", memory.Scope{}, 10); err != nil {
				t.Errorf("concurrent search: %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := s.CountByUser(ctx, "u1"); n != 10 {
		t.Errorf("count = %d, want 10", n)
	}
}

// --- Infrastructure tests ---

func TestModuleRegistersServices(t *testing.T) {
	dir := t.TempDir()
	m := &Module{config: Config{Path: filepath.Join(dir, "svc.db")}}
	app := core.NewAppContext(slog.Default(), dir, dir)
	if err := m.Provision(app); err != nil {
		t.Fatalf("provision: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	if _, ok := app.GetService(memory.ServiceStore); !ok {
		t.Error("memory store not registered")
	}
	if _, ok := app.GetService(chat.ServiceStore); !ok {
		t.Error("chat store not registered")
	}
	if _, ok := app.GetService(memory.ServiceMaintenance); !ok {
		t.Error("maintenance not registered")
	}
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	m := &Module{}
	if err := m.Provision(core.NewAppContext(slog.Default(), dir, dir)); err != nil {
		t.Fatalf("provision: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	if want := filepath.Join(dir, defaultDBFile); m.config.Path != want {
		t.Errorf("path = %q, want %q", m.config.Path, want)
	}
}

func TestWALMode(t *testing.T) {
	m := newTestModule(t)

	var mode string
	if err := m.db.db.QueryRowContext(t.Context(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("pragma journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestMigrationIdempotent(t *testing.T) {
	m := newTestModule(t)

	if err := migrate(context.Background(), m.db.db); err != nil {
		t.Fatalf("second migration: %v", err)
	}
	if _, err := m.db.Chats().CreateConversation(context.Background(), "u1", "test"); err != nil {
		t.Fatalf("create after re-migration: %v", err)
	}
}

func TestMaintenance(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	db := m.DB()

	insert(t, db.Memories(), memory.NewMemory{UserID: "u1", Kind: memory.KindNote, Text: "Kahve notu"})
	conv, _ := db.Chats().CreateConversation(ctx, "u1", "")
	if _, err := db.Chats().AddMessage(ctx, conv.ID, provider.MessageRoleUser, "selam"); err != nil {
		t.Fatalf("add message: %v", err)
	}

	if err := db.Optimize(ctx); err != nil {
		t.Errorf("optimize: %v", err)
	}
	if err := db.Checkpoint(ctx); err != nil {
		t.Errorf("checkpoint: %v", err)
	}
	if err := db.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if n, _ := db.Memories().CountByUser(ctx, "u1"); n != 0 {
		t.Errorf("memories after reset = %d", n)
	}
	if convs, _ := db.Chats().ListConversations(ctx, "u1"); len(convs) != 0 {
		t.Errorf("conversations after reset = %d", len(convs))
	}
	if got, _ := db.Memories().TextCandidates(ctx, "u1", "kahve*", memory.Scope{}, 10); len(got) != 0 {
		t.Errorf("fts still returns %v", ids(got))
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	c := Config{BusyTimeout: -1}
	if err := c.validate(); err == nil {
		t.Error("expected error for negative busy_timeout")
	}
	c = Config{Synchronous: "sometimes"}
	if err := c.validate(); err == nil {
		t.Error("expected error for unknown synchronous level")
	}
	c = Config{Synchronous: "full"}
	if err := c.validate(); err != nil {
		t.Errorf("lower-case level should be accepted: %v", err)
	}
	c.defaults()
	if c.Synchronous != "FULL" {
		t.Errorf("Synchronous = %q, want FULL", c.Synchronous)
	}
	c = Config{}
	c.defaults()
	if !c.walEnabled() || c.BusyTimeout != defaultBusyTimeout || c.Synchronous != defaultSynchronous {
		t.Errorf("defaults = %+v", c)
	}
}
