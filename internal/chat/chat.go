// Package chat defines the conversation transcript model and its storage
// contract.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/flemzord/hafiza/internal/provider"
)

// ServiceStore is the core.AppContext service name of the Store.
const ServiceStore = "chat.store"

// DefaultTitle names conversations created without a title.
const DefaultTitle = "Yeni Sohbet"

// ErrConversationNotFound is returned when a message targets a missing conversation.
var ErrConversationNotFound = errors.New("chat: conversation not found")

// ErrInvalidRole is returned for roles outside user, assistant and system.
var ErrInvalidRole = errors.New("chat: invalid role")

// Conversation is one chat thread of a user.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one transcript entry. Messages of a conversation are ordered by ID.
type Message struct {
	ID        int64                `json:"id"`
	ConvID    int64                `json:"conv_id"`
	Role      provider.MessageRole `json:"role"`
	Content   string               `json:"content"`
	CreatedAt time.Time            `json:"created_at"`
}

// LLM converts m to a provider message.
func (m Message) LLM() provider.LLMMessage {
	return provider.LLMMessage{Role: m.Role, Content: m.Content}
}

// Store persists conversations and their messages.
//
// Rename, Delete and Get are no-ops or report absence for missing ids.
// AddMessage bumps the conversation's updated_at and fails with
// ErrConversationNotFound when it does not exist. Messages returns the most
// recent limit messages in chronological order, or all of them when limit
// is not positive.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, id int64) (Conversation, bool, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	ConversationsUpdatedSince(ctx context.Context, since time.Time) ([]Conversation, error)
	RenameConversation(ctx context.Context, id int64, title string) error
	DeleteConversation(ctx context.Context, id int64) error
	AddMessage(ctx context.Context, convID int64, role provider.MessageRole, content string) (Message, error)
	Messages(ctx context.Context, convID int64, limit int) ([]Message, error)
}

// Title returns title trimmed, or DefaultTitle when blank.
func Title(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return DefaultTitle
}

// LastExchange returns the last user message and the assistant reply that
// follows it. ok is false when msgs holds no such pair.
func LastExchange(msgs []Message) (user, assistant Message, ok bool) {
	for i := len(msgs) - 1; i > 0; i-- {
		if msgs[i].Role == provider.MessageRoleAssistant && msgs[i-1].Role == provider.MessageRoleUser {
			return msgs[i-1], msgs[i], true
		}
	}
	return Message{}, Message{}, false
}

// LLMMessages converts a transcript to provider messages.
func LLMMessages(msgs []Message) []provider.LLMMessage {
	out := make([]provider.LLMMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.LLM()
	}
	return out
}
