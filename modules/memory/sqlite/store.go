package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/flemzord/hafiza/internal/memory"
)

// MemoryStore implements memory.Store over the memories and memories_fts
// tables.
type MemoryStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ memory.Store = (*MemoryStore)(nil)

const memoryColumns = `m.id, m.user_id, m.kind, m.text, m.embedding, m.dim,
	COALESCE(m.source, ''), COALESCE(m.tags, ''), COALESCE(m.conv_scope, ''),
	m.created_at, m.expires_at`

// Insert implements memory.Store.
func (s *MemoryStore) Insert(ctx context.Context, n memory.NewMemory) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}

	created := n.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (user_id, kind, text, embedding, dim, source, tags, conv_scope, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, string(n.Kind), n.Text,
		encodeEmbedding(n.Embedding), len(n.Embedding),
		nullString(n.Source), nullString(memory.JoinTags(n.Tags)), nullString(n.ConvScope()),
		formatTime(created), nullTime(n.ExpiresAt),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return id, nil
}

// Get implements memory.Store.
func (s *MemoryStore) Get(ctx context.Context, id int64) (memory.Memory, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories m WHERE m.id = ?`, id)
	if err != nil {
		return memory.Memory{}, false, fmt.Errorf("sqlite: get memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mems, err := scanMemories(rows)
	if err != nil || len(mems) == 0 {
		return memory.Memory{}, false, err
	}
	return mems[0], true, nil
}

// UpdateText implements memory.Store. The FTS index follows through the
// update trigger.
func (s *MemoryStore) UpdateText(ctx context.Context, id int64, text string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE memories SET text = ?, embedding = ?, dim = ? WHERE id = ?",
		text, encodeEmbedding(embedding), len(embedding), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update memory: %w", err)
	}
	return nil
}

// Delete implements memory.Store.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("sqlite: delete memory: %w", err)
	}
	return nil
}

// TextCandidates implements memory.Store.
func (s *MemoryStore) TextCandidates(ctx context.Context, userID, ftsQuery string, scope memory.Scope, limit int) ([]memory.Candidate, error) {
	if ftsQuery == "" || limit <= 0 {
		return []memory.Candidate{}, nil
	}

	filter, args := scopeFilter(scope)
	query := `SELECT ` + memoryColumns + `
		FROM memories_fts f
		JOIN memories m ON m.id = f.rowid
		WHERE memories_fts MATCH ? AND m.user_id = ?` + filter + `
		ORDER BY m.id ASC
		LIMIT ?`
	return s.candidates(ctx, query, append(append([]any{ftsQuery, userID}, args...), limit)...)
}

// RecentCandidates implements memory.Store.
func (s *MemoryStore) RecentCandidates(ctx context.Context, userID string, scope memory.Scope, limit int) ([]memory.Candidate, error) {
	if limit <= 0 {
		return []memory.Candidate{}, nil
	}

	filter, args := scopeFilter(scope)
	query := `SELECT ` + memoryColumns + `
		FROM memories m
		WHERE m.user_id = ?` + filter + `
		ORDER BY m.id DESC
		LIMIT ?`
	return s.candidates(ctx, query, append(append([]any{userID}, args...), limit)...)
}

// List implements memory.Store.
func (s *MemoryStore) List(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories m WHERE m.id > ?`
	args := []any{opts.AfterID}
	if opts.UserID != "" {
		query += " AND m.user_id = ?"
		args = append(args, opts.UserID)
	}
	query += " ORDER BY m.id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// CountByUser implements memory.Store.
func (s *MemoryStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count memories: %w", err)
	}
	return n, nil
}

// Dimension implements memory.Store.
func (s *MemoryStore) Dimension(ctx context.Context, userID string) (int, bool, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		"SELECT dim FROM memories WHERE user_id = ? ORDER BY id DESC LIMIT 1", userID,
	).Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("sqlite: memory dimension: %w", err)
	}
	return dim, true, nil
}

func (s *MemoryStore) candidates(ctx context.Context, query string, args ...any) ([]memory.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]memory.Candidate, len(mems))
	for i, m := range mems {
		out[i] = memory.Candidate{Memory: m, AgeSeconds: now.Sub(m.CreatedAt).Seconds()}
	}
	return out, nil
}

// scopeFilter restricts rows to one conversation: the conv_scope column,
// an exact conv:<id> tag, or a conv:<id> token in source.
func scopeFilter(scope memory.Scope) (string, []any) {
	if scope.IsZero() {
		return "", nil
	}
	tag := memory.ConvTag(scope.ConvID)
	return ` AND (m.conv_scope = ?
		OR instr(',' || COALESCE(m.tags, '') || ',', ?) > 0
		OR instr(' ' || replace(COALESCE(m.source, ''), ',', ' ') || ' ', ?) > 0)`,
		[]any{scope.ConvID, "," + tag + ",", " " + tag + " "}
}

func scanMemories(rows *sql.Rows) ([]memory.Memory, error) {
	out := []memory.Memory{}
	for rows.Next() {
		var (
			m         memory.Memory
			kind      string
			blob      []byte
			tags      string
			createdAt string
			expiresAt sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.UserID, &kind, &m.Text, &blob, &m.Dim,
			&m.Source, &tags, &m.ConvScope, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
		}
		m.Kind = memory.Kind(kind)
		m.Tags = memory.SplitTags(tags)

		emb, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: memory %d: %w", m.ID, err)
		}
		m.Embedding = emb

		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: memory %d created_at: %w", m.ID, err)
		}
		if expiresAt.Valid && expiresAt.String != "" {
			t, err := parseTime(expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: memory %d expires_at: %w", m.ID, err)
			}
			m.ExpiresAt = &t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan memories rows: %w", err)
	}
	return out, nil
}

// encodeEmbedding serializes v as little-endian float32 values.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(memory.TimeLayout)
}

// parseTime accepts the datetime('now') layout and RFC 3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(memory.TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
