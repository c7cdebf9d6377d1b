package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/memory"
)

// Maintainer is the database housekeeping surface. The SQLite module
// publishes one under memory.ServiceMaintenance.
type Maintainer interface {
	// Optimize merges the full-text index segments.
	Optimize(ctx context.Context) error
	// Checkpoint truncates the write-ahead log.
	Checkpoint(ctx context.Context) error
}

// FTSOptimizeJob merges the FTS5 index once a day.
type FTSOptimizeJob struct {
	DB           Maintainer
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "30 3 * * *"
}

var _ Job = (*FTSOptimizeJob)(nil)

// Name implements Job.
func (j *FTSOptimizeJob) Name() string { return "fts_optimize" }

// Schedule implements Job.
func (j *FTSOptimizeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "30 3 * * *"
}

// Run implements Job.
func (j *FTSOptimizeJob) Run(ctx context.Context) error {
	if err := j.DB.Optimize(ctx); err != nil {
		return fmt.Errorf("cron: fts optimize: %w", err)
	}
	j.Logger.Info("cron: full-text index optimized")
	return nil
}

// WALCheckpointJob truncates the write-ahead log every hour.
type WALCheckpointJob struct {
	DB           Maintainer
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

var _ Job = (*WALCheckpointJob)(nil)

// Name implements Job.
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Schedule implements Job.
func (j *WALCheckpointJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run implements Job.
func (j *WALCheckpointJob) Run(ctx context.Context) error {
	if err := j.DB.Checkpoint(ctx); err != nil {
		return fmt.Errorf("cron: wal checkpoint: %w", err)
	}
	j.Logger.Debug("cron: wal checkpointed")
	return nil
}

// Harvester turns one exchange into stored memories. *assistant.Assistant
// implements it.
type Harvester interface {
	Harvest(ctx context.Context, userID string, ex memory.Exchange) ([]assistant.Saved, error)
}

// MemoryExtractionJob harvests memories from the latest user/assistant
// exchange of every conversation updated since the previous run. An
// exchange is harvested at most once.
type MemoryExtractionJob struct {
	Chats        chat.Store
	Harvester    Harvester
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"

	// Lookback is how far back the first run looks. Zero means one hour.
	Lookback time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	since time.Time
	seen  map[int64]int64 // conversation id -> last harvested message id
}

var _ Job = (*MemoryExtractionJob)(nil)

// Name implements Job.
func (j *MemoryExtractionJob) Name() string { return "memory_extraction" }

// Schedule implements Job.
func (j *MemoryExtractionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// watermarkSlack overlaps consecutive runs; seen deduplicates the overlap.
const watermarkSlack = 2 * time.Second

// exchangeWindow bounds the transcript tail searched for the last exchange.
const exchangeWindow = 8

// Run implements Job. The watermark advances only when every conversation
// was processed, so failed ones are retried on the next tick.
func (j *MemoryExtractionJob) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	start := now()
	if j.since.IsZero() {
		lookback := j.Lookback
		if lookback <= 0 {
			lookback = time.Hour
		}
		j.since = start.Add(-lookback)
	}
	if j.seen == nil {
		j.seen = make(map[int64]int64)
	}

	convs, err := j.Chats.ConversationsUpdatedSince(ctx, j.since)
	if err != nil {
		return fmt.Errorf("cron: memory extraction: list conversations: %w", err)
	}

	var (
		errs  []error
		saved int
		live  = make(map[int64]int64, len(convs))
	)
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cron: memory extraction cancelled: %w", err)
		}
		live[conv.ID] = j.seen[conv.ID]

		msgs, err := j.Chats.Messages(ctx, conv.ID, exchangeWindow)
		if err != nil {
			errs = append(errs, fmt.Errorf("conversation %d: %w", conv.ID, err))
			continue
		}
		user, reply, ok := chat.LastExchange(msgs)
		if !ok || reply.ID <= j.seen[conv.ID] {
			continue
		}

		out, err := j.Harvester.Harvest(ctx, conv.UserID, memory.Exchange{
			ConvID:           strconv.FormatInt(conv.ID, 10),
			UserMessage:      user.LLM(),
			AssistantMessage: reply.LLM(),
			Timestamp:        reply.CreatedAt,
		})
		saved += len(out)
		if err != nil {
			errs = append(errs, fmt.Errorf("conversation %d: %w", conv.ID, err))
			continue
		}
		live[conv.ID] = reply.ID
	}

	// Only conversations inside the window can show up again.
	j.seen = live

	if len(convs) > 0 {
		j.Logger.Info("cron: memory extraction finished",
			"conversations", len(convs), "saved", saved, "errors", len(errs))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cron: memory extraction: %w", errors.Join(errs...))
	}
	// Timestamps are stored with second precision.
	j.since = start.Add(-watermarkSlack)
	return nil
}
