package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// DB is an opened and migrated hafiza database holding memories and chat
// transcripts.
type DB struct {
	db       *sql.DB
	memories *MemoryStore
	chats    *ChatStore
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	now func() time.Time
}

// WithClock replaces the clock used for created_at, updated_at and
// candidate ages.
func WithClock(now func() time.Time) Option {
	return func(o *openOptions) { o.now = now }
}

// Open opens the database at cfg.Path, creating parent directories, and
// migrates the schema.
//
// The pool is limited to a single connection (SQLite serialises writes) so
// PRAGMAs apply consistently. Foreign keys are enabled for cascading
// message deletes.
func Open(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := openOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=" + cfg.Synchronous,
	}
	if cfg.walEnabled() {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{
		db:       db,
		memories: &MemoryStore{db: db, now: o.now},
		chats:    &ChatStore{db: db, now: o.now},
	}, nil
}

// Memories returns the memory store.
func (d *DB) Memories() *MemoryStore { return d.memories }

// Chats returns the transcript store.
func (d *DB) Chats() *ChatStore { return d.chats }

// Check pings the database and verifies the FTS5 table is readable.
func (d *DB) Check(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT count(*) FROM memories_fts").Scan(&n); err != nil {
		return fmt.Errorf("sqlite: FTS5 not available: %w", err)
	}
	return nil
}

// Optimize merges the FTS5 index segments.
func (d *DB) Optimize(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "INSERT INTO memories_fts(memories_fts) VALUES('optimize')"); err != nil {
		return fmt.Errorf("sqlite: optimize fts: %w", err)
	}
	return nil
}

// Checkpoint truncates the write-ahead log.
func (d *DB) Checkpoint(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlite: wal checkpoint: %w", err)
	}
	return nil
}

// Reset deletes every memory, conversation and message, keeping the
// schema, then reclaims disk space.
func (d *DB) Reset(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM messages",
		"DELETE FROM conversations",
		"DELETE FROM memories",
		"INSERT INTO memories_fts(memories_fts) VALUES('rebuild')",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: reset: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit reset: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("sqlite: vacuum: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
