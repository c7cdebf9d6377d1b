package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/provider"
)

func TestJobDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		job      Job
		name     string
		schedule string
	}{
		{&FTSOptimizeJob{}, "fts_optimize", "30 3 * * *"},
		{&WALCheckpointJob{}, "wal_checkpoint", "0 * * * *"},
		{&MemoryExtractionJob{}, "memory_extraction", "*/10 * * * *"},
		{&WALCheckpointJob{ScheduleExpr: "*/15 * * * *"}, "wal_checkpoint", "*/15 * * * *"},
	}
	for _, tt := range tests {
		if tt.job.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tt.job.Name(), tt.name)
		}
		if tt.job.Schedule() != tt.schedule {
			t.Errorf("%s: Schedule() = %q, want %q", tt.name, tt.job.Schedule(), tt.schedule)
		}
		if err := CheckSchedule(tt.job.Schedule()); err != nil {
			t.Errorf("%s: default schedule does not parse: %v", tt.name, err)
		}
	}
}

type fakeMaintainer struct {
	OptimizeErr, CheckpointErr     error
	OptimizeCalls, CheckpointCalls atomic.Int32
}

func (m *fakeMaintainer) Optimize(context.Context) error {
	m.OptimizeCalls.Add(1)
	return m.OptimizeErr
}

func (m *fakeMaintainer) Checkpoint(context.Context) error {
	m.CheckpointCalls.Add(1)
	return m.CheckpointErr
}

func TestMaintenanceJobs(t *testing.T) {
	t.Parallel()

	db := &fakeMaintainer{}
	if err := (&FTSOptimizeJob{DB: db, Logger: slog.Default()}).Run(t.Context()); err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if err := (&WALCheckpointJob{DB: db, Logger: slog.Default()}).Run(t.Context()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if db.OptimizeCalls.Load() != 1 || db.CheckpointCalls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", db.OptimizeCalls.Load(), db.CheckpointCalls.Load())
	}

	boom := errors.New("disk full")
	failing := &fakeMaintainer{OptimizeErr: boom, CheckpointErr: boom}
	if err := (&FTSOptimizeJob{DB: failing, Logger: slog.Default()}).Run(t.Context()); !errors.Is(err, boom) {
		t.Errorf("optimize err = %v, want wrapped boom", err)
	}
	if err := (&WALCheckpointJob{DB: failing, Logger: slog.Default()}).Run(t.Context()); !errors.Is(err, boom) {
		t.Errorf("checkpoint err = %v, want wrapped boom", err)
	}
}

// recordingHarvester remembers every exchange it is given.
type recordingHarvester struct {
	mu    sync.Mutex
	users []string
	seen  []memory.Exchange
	err   error
}

func (h *recordingHarvester) Harvest(_ context.Context, userID string, ex memory.Exchange) ([]assistant.Saved, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	h.users = append(h.users, userID)
	h.seen = append(h.seen, ex)
	return []assistant.Saved{{ID: 1, Kind: memory.KindNote, Text: ex.UserMessage.Content}}, nil
}

func (h *recordingHarvester) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func addExchange(t *testing.T, chats chat.Store, convID int64, user, reply string) {
	t.Helper()
	if _, err := chats.AddMessage(t.Context(), convID, provider.MessageRoleUser, user); err != nil {
		t.Fatal(err)
	}
	if _, err := chats.AddMessage(t.Context(), convID, provider.MessageRoleAssistant, reply); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryExtractionJob_Run(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	chats := chat.NewMemStore()
	chats.SetClock(clock.Now)

	conv, err := chats.CreateConversation(t.Context(), "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	addExchange(t, chats, conv.ID, "Kahvemi sütlü severim", "Not aldım.")
	clock.Advance(time.Minute)

	h := &recordingHarvester{}
	job := &MemoryExtractionJob{Chats: chats, Harvester: h, Logger: slog.Default(), Now: clock.Now}

	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if h.count() != 1 {
		t.Fatalf("harvested = %d, want 1", h.count())
	}
	ex := h.seen[0]
	if h.users[0] != "u1" || ex.UserMessage.Content != "Kahvemi sütlü severim" || ex.AssistantMessage.Content != "Not aldım." {
		t.Errorf("exchange = %+v for %q", ex, h.users[0])
	}
	if ex.ConvID == "" {
		t.Error("exchange should carry the conversation id")
	}

	// Nothing new: the same exchange is not harvested twice.
	clock.Advance(time.Second)
	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if h.count() != 1 {
		t.Errorf("harvested = %d after an idle run, want 1", h.count())
	}

	clock.Advance(10 * time.Minute)
	addExchange(t, chats, conv.ID, "Takımım Beşiktaş", "Harika.")
	clock.Advance(time.Minute)
	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if h.count() != 2 || h.seen[1].UserMessage.Content != "Takımım Beşiktaş" {
		t.Errorf("harvested = %+v, want the new exchange", h.seen)
	}
}

func TestMemoryExtractionJob_LookbackAndFailures(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	chats := chat.NewMemStore()
	chats.SetClock(clock.Now)

	old, _ := chats.CreateConversation(t.Context(), "u1", "")
	addExchange(t, chats, old.ID, "eski", "eski cevap")
	clock.Advance(3 * time.Hour)

	pending, _ := chats.CreateConversation(t.Context(), "u1", "")
	if _, err := chats.AddMessage(t.Context(), pending.ID, provider.MessageRoleUser, "cevapsız"); err != nil {
		t.Fatal(err)
	}

	h := &recordingHarvester{err: errors.New("extractor down")}
	job := &MemoryExtractionJob{Chats: chats, Harvester: h, Logger: slog.Default(), Now: clock.Now}

	// Neither the stale conversation nor the unanswered one is harvested.
	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("run: %v", err)
	}

	fresh, _ := chats.CreateConversation(t.Context(), "u2", "")
	addExchange(t, chats, fresh.ID, "yeni", "yeni cevap")
	clock.Advance(time.Minute)
	if err := job.Run(t.Context()); err == nil {
		t.Fatal("expected the harvest error")
	}

	h.mu.Lock()
	h.err = nil
	h.mu.Unlock()
	clock.Advance(time.Minute)
	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.count() != 1 || h.users[0] != "u2" {
		t.Errorf("harvested users = %v, want [u2]", h.users)
	}
}
