package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id         INTEGER PRIMARY KEY,
		user_id    TEXT    NOT NULL,
		kind       TEXT    NOT NULL CHECK (kind IN ('preference','profile','fact','note')),
		text       TEXT    NOT NULL,
		embedding  BLOB    NOT NULL,
		dim        INTEGER NOT NULL,
		source     TEXT,
		tags       TEXT,
		conv_scope TEXT,
		created_at TEXT    NOT NULL DEFAULT (datetime('now')),
		expires_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, id)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(user_id, conv_scope)`,

	// unicode61 with remove_diacritics folds "süt" and "sut" together.
	`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		text,
		content='memories',
		content_rowid='id',
		tokenize='unicode61 remove_diacritics 2'
	)`,

	`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, text) VALUES (new.id, new.text);
	END`,

	`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', old.id, old.text);
	END`,

	`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF text ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', old.id, old.text);
		INSERT INTO memories_fts(rowid, text) VALUES (new.id, new.text);
	END`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id         INTEGER PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY,
		conv_id    INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role       TEXT    NOT NULL CHECK (role IN ('user','assistant','system')),
		content    TEXT    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conv_id, id)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return tx.Commit()
}
