package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/provider"
)

// ChatStore implements chat.Store over the conversations and messages tables.
type ChatStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ chat.Store = (*ChatStore)(nil)

const conversationColumns = "id, user_id, title, created_at, updated_at"

// CreateConversation implements chat.Store.
func (s *ChatStore) CreateConversation(ctx context.Context, userID, title string) (chat.Conversation, error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, chat.Title(title), now, now,
	)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("sqlite: create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	c, _, err := s.GetConversation(ctx, id)
	return c, err
}

// GetConversation implements chat.Store.
func (s *ChatStore) GetConversation(ctx context.Context, id int64) (chat.Conversation, bool, error) {
	convs, err := s.queryConversations(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	if err != nil || len(convs) == 0 {
		return chat.Conversation{}, false, err
	}
	return convs[0], true, nil
}

// ListConversations implements chat.Store.
func (s *ChatStore) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	return s.queryConversations(ctx, `SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC`, userID)
}

// ConversationsUpdatedSince implements chat.Store.
func (s *ChatStore) ConversationsUpdatedSince(ctx context.Context, since time.Time) ([]chat.Conversation, error) {
	return s.queryConversations(ctx, `SELECT `+conversationColumns+`
		FROM conversations
		WHERE updated_at >= ?
		ORDER BY updated_at ASC, id ASC`, formatTime(since))
}

// RenameConversation implements chat.Store.
func (s *ChatStore) RenameConversation(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		chat.Title(title), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation implements chat.Store. Messages go with it through
// the foreign key cascade.
func (s *ChatStore) DeleteConversation(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("sqlite: delete conversation: %w", err)
	}
	return nil
}

// AddMessage implements chat.Store.
func (s *ChatStore) AddMessage(ctx context.Context, convID int64, role provider.MessageRole, content string) (chat.Message, error) {
	if !role.Valid() {
		return chat.Message{}, fmt.Errorf("%w: %q", chat.ErrInvalidRole, role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("sqlite: begin add message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", formatTime(now), convID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("sqlite: touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return chat.Message{}, fmt.Errorf("sqlite: rows affected: %w", err)
	} else if n == 0 {
		return chat.Message{}, fmt.Errorf("%w: %d", chat.ErrConversationNotFound, convID)
	}

	res, err = tx.ExecContext(ctx,
		"INSERT INTO messages (conv_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		convID, string(role), content, formatTime(now),
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("sqlite: add message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("sqlite: commit message: %w", err)
	}

	return chat.Message{ID: id, ConvID: convID, Role: role, Content: content, CreatedAt: now}, nil
}

// Messages implements chat.Store.
func (s *ChatStore) Messages(ctx context.Context, convID int64, limit int) ([]chat.Message, error) {
	query := `SELECT id, conv_id, role, content, created_at FROM messages WHERE conv_id = ? ORDER BY id ASC`
	args := []any{convID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, conv_id, role, content, created_at FROM messages
			WHERE conv_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []chat.Message{}
	for rows.Next() {
		var (
			m       chat.Message
			role    string
			created string
		)
		if err := rows.Scan(&m.ID, &m.ConvID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Role = provider.MessageRole(role)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: message %d created_at: %w", m.ID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan messages rows: %w", err)
	}
	return out, nil
}

func (s *ChatStore) queryConversations(ctx context.Context, query string, args ...any) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []chat.Conversation{}
	for rows.Next() {
		var (
			c                chat.Conversation
			created, updated string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: conversation %d created_at: %w", c.ID, err)
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("sqlite: conversation %d updated_at: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan conversations rows: %w", err)
	}
	return out, nil
}
