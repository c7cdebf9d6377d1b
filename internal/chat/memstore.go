package chat

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/hafiza/internal/provider"
)

// MemStore is an in-memory Store.
type MemStore struct {
	mu       sync.RWMutex
	convs    map[int64]*Conversation
	messages map[int64][]Message
	nextConv int64
	nextMsg  int64
	now      func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store using the wall clock.
func NewMemStore() *MemStore {
	return &MemStore{
		convs:    make(map[int64]*Conversation),
		messages: make(map[int64][]Message),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemStore) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// CreateConversation implements Store.
func (s *MemStore) CreateConversation(_ context.Context, userID, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConv++
	now := s.stamp()
	c := &Conversation{ID: s.nextConv, UserID: userID, Title: Title(title), CreatedAt: now, UpdatedAt: now}
	s.convs[c.ID] = c
	return *c, nil
}

// GetConversation implements Store.
func (s *MemStore) GetConversation(_ context.Context, id int64) (Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false, nil
	}
	return *c, true, nil
}

// ListConversations implements Store.
func (s *MemStore) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Conversation{}
	for _, c := range s.convs {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// ConversationsUpdatedSince implements Store.
func (s *MemStore) ConversationsUpdatedSince(_ context.Context, since time.Time) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Conversation{}
	for _, c := range s.convs {
		if !c.UpdatedAt.Before(since) {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// RenameConversation implements Store.
func (s *MemStore) RenameConversation(_ context.Context, id int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[id]; ok {
		c.Title = Title(title)
		c.UpdatedAt = s.stamp()
	}
	return nil
}

// DeleteConversation implements Store.
func (s *MemStore) DeleteConversation(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.convs, id)
	delete(s.messages, id)
	return nil
}

// AddMessage implements Store.
func (s *MemStore) AddMessage(_ context.Context, convID int64, role provider.MessageRole, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[convID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrConversationNotFound, convID)
	}
	s.nextMsg++
	now := s.stamp()
	m := Message{ID: s.nextMsg, ConvID: convID, Role: role, Content: content, CreatedAt: now}
	s.messages[convID] = append(s.messages[convID], m)
	c.UpdatedAt = now
	return m, nil
}

// Messages implements Store.
func (s *MemStore) Messages(_ context.Context, convID int64, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[convID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message{}, msgs...), nil
}
