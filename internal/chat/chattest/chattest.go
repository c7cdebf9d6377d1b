// Package chattest holds a behavioural test suite shared by chat.Store
// implementations.
package chattest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/provider"
)

// Factory builds an empty store whose timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) chat.Store

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Run exercises every Store operation against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	setup := func(t *testing.T) (chat.Store, *clock) {
		t.Helper()
		c := &clock{t: start}
		return newStore(t, c.now), c
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		s, _ := setup(t)
		ctx := t.Context()

		c, err := s.CreateConversation(ctx, "u1", "  ")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if c.ID == 0 || c.Title != chat.DefaultTitle || !c.CreatedAt.Equal(start) {
			t.Errorf("created %+v", c)
		}

		got, ok, err := s.GetConversation(ctx, c.ID)
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if got.UserID != "u1" || got.Title != chat.DefaultTitle {
			t.Errorf("got %+v", got)
		}

		if _, ok, err := s.GetConversation(ctx, 999); ok || err != nil {
			t.Errorf("missing: ok=%v err=%v", ok, err)
		}
	})

	t.Run("ListOrder", func(t *testing.T) {
		s, clk := setup(t)
		ctx := t.Context()

		a, _ := s.CreateConversation(ctx, "u1", "a")
		b, _ := s.CreateConversation(ctx, "u1", "b")
		if _, err := s.CreateConversation(ctx, "u2", "other"); err != nil {
			t.Fatalf("create: %v", err)
		}

		list, err := s.ListConversations(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
			t.Fatalf("list = %+v, want b then a on equal updated_at", list)
		}

		clk.advance(time.Minute)
		if _, err := s.AddMessage(ctx, a.ID, provider.MessageRoleUser, "merhaba"); err != nil {
			t.Fatalf("add: %v", err)
		}
		list, _ = s.ListConversations(ctx, "u1")
		if list[0].ID != a.ID || !list[0].UpdatedAt.Equal(start.Add(time.Minute)) {
			t.Errorf("list[0] = %+v, want a bumped to the top", list[0])
		}

		since, _ := s.ConversationsUpdatedSince(ctx, start.Add(30*time.Second))
		if len(since) != 1 || since[0].ID != a.ID {
			t.Errorf("updated since = %+v, want only a", since)
		}
	})

	t.Run("Rename", func(t *testing.T) {
		s, clk := setup(t)
		ctx := t.Context()

		c, _ := s.CreateConversation(ctx, "u1", "eski")
		clk.advance(time.Hour)
		if err := s.RenameConversation(ctx, c.ID, "yeni"); err != nil {
			t.Fatalf("rename: %v", err)
		}
		got, _, _ := s.GetConversation(ctx, c.ID)
		if got.Title != "yeni" || !got.UpdatedAt.Equal(start.Add(time.Hour)) {
			t.Errorf("got %+v", got)
		}
		if err := s.RenameConversation(ctx, 999, "x"); err != nil {
			t.Errorf("rename missing: %v", err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		s, _ := setup(t)
		ctx := t.Context()

		c, _ := s.CreateConversation(ctx, "u1", "")
		contents := []string{"bir", "iki", "üç", "dört"}
		roles := []provider.MessageRole{
			provider.MessageRoleUser, provider.MessageRoleAssistant,
			provider.MessageRoleUser, provider.MessageRoleAssistant,
		}
		for i, content := range contents {
			if _, err := s.AddMessage(ctx, c.ID, roles[i], content); err != nil {
				t.Fatalf("add %q: %v", content, err)
			}
		}

		all, err := s.Messages(ctx, c.ID, 0)
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		if len(all) != 4 || all[0].Content != "bir" || all[3].Content != "dört" {
			t.Fatalf("all = %+v", all)
		}
		for i := 1; i < len(all); i++ {
			if all[i].ID <= all[i-1].ID {
				t.Errorf("ids not ascending: %d then %d", all[i-1].ID, all[i].ID)
			}
		}

		recent, _ := s.Messages(ctx, c.ID, 2)
		if len(recent) != 2 || recent[0].Content != "üç" || recent[1].Content != "dört" {
			t.Errorf("recent = %+v, want üç dört", recent)
		}

		user, assistant, ok := chat.LastExchange(all)
		if !ok || user.Content != "üç" || assistant.Content != "dört" {
			t.Errorf("last exchange = %q %q %v", user.Content, assistant.Content, ok)
		}
	})

	t.Run("AddMessageErrors", func(t *testing.T) {
		s, _ := setup(t)
		ctx := t.Context()

		if _, err := s.AddMessage(ctx, 999, provider.MessageRoleUser, "x"); !errors.Is(err, chat.ErrConversationNotFound) {
			t.Errorf("missing conversation err = %v", err)
		}
		c, _ := s.CreateConversation(ctx, "u1", "")
		if _, err := s.AddMessage(ctx, c.ID, "tool", "x"); !errors.Is(err, chat.ErrInvalidRole) {
			t.Errorf("invalid role err = %v", err)
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		s, _ := setup(t)
		ctx := t.Context()

		c, _ := s.CreateConversation(ctx, "u1", "")
		if _, err := s.AddMessage(ctx, c.ID, provider.MessageRoleUser, "sil beni"); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := s.DeleteConversation(ctx, c.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok, _ := s.GetConversation(ctx, c.ID); ok {
			t.Error("conversation still present")
		}
		msgs, err := s.Messages(ctx, c.ID, 0)
		if err != nil || len(msgs) != 0 {
			t.Errorf("messages after delete = %v, %v", msgs, err)
		}
		if err := s.DeleteConversation(ctx, c.ID); err != nil {
			t.Errorf("second delete: %v", err)
		}
	})
}
