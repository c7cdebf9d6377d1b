package ctxengine_test

import (
	"strings"
	"sync"
	"testing"

	ctxengine "github.com/flemzord/hafiza/internal/context"
	"github.com/flemzord/hafiza/internal/provider"
)

const (
	sys  = provider.MessageRoleSystem
	user = provider.MessageRoleUser
	asst = provider.MessageRoleAssistant
)

func TestBuffer_Trim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ctxengine.BufferConfig
		load []provider.LLMMessage
		want string
	}{
		{
			name: "max_messages_keeps_newest",
			cfg:  ctxengine.BufferConfig{MaxMessages: 3},
			load: makeTestMessages(5),
			want: "msg-2,msg-3,msg-4",
		},
		{
			name: "max_messages_preserves_system",
			cfg:  ctxengine.BufferConfig{MaxMessages: 3},
			load: []provider.LLMMessage{msg(sys, "s"), msg(user, "u1"), msg(asst, "a1"), msg(user, "u2"), msg(asst, "a2")},
			want: "s,u2,a2",
		},
		{
			name: "max_messages_drops_system_last",
			cfg:  ctxengine.BufferConfig{MaxMessages: 2},
			load: []provider.LLMMessage{msg(sys, "s1"), msg(sys, "s2"), msg(sys, "s3"), msg(user, "u")},
			want: "s2,s3",
		},
		{
			name: "token_budget_drops_oldest",
			cfg:  ctxengine.BufferConfig{MaxMessages: -1, TokenBudget: 20},
			load: []provider.LLMMessage{msg(user, "aaaa"), msg(asst, "bbbb"), msg(user, "cccc")},
			want: "bbbb,cccc",
		},
		{
			name: "token_budget_preserves_system",
			cfg:  ctxengine.BufferConfig{MaxMessages: -1, TokenBudget: 20},
			load: []provider.LLMMessage{msg(sys, "s"), msg(user, "xxxxxxxxxx"), msg(asst, "yyyyyyyyyy")},
			want: "s,yyyyyyyyyy",
		},
		{
			name: "token_budget_system_survives",
			cfg:  ctxengine.BufferConfig{MaxMessages: -1, TokenBudget: 5},
			load: []provider.LLMMessage{msg(sys, "ssssssss"), msg(user, strings.Repeat("z", 100))},
			want: "ssssssss",
		},
		{
			name: "defaults",
			load: makeTestMessages(25),
			want: contents(makeTestMessages(25)[5:]),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := ctxengine.NewBuffer(tt.cfg, &mockEstimator{})
			b.Load(tt.load)
			if got := contents(b.Messages()); got != tt.want {
				t.Errorf("messages = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuffer_PushTrims(t *testing.T) {
	t.Parallel()

	b := ctxengine.NewBuffer(ctxengine.BufferConfig{MaxMessages: 2}, nil)
	b.Push(user, "merhaba")
	b.Push(asst, "selam")
	b.Push(user, "nasılsın")

	if got := contents(b.Messages()); got != "selam,nasılsın" {
		t.Errorf("messages = %q", got)
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
	// "selam" is 5 runes and "nasılsın" 8: (1+4) + (2+4)
	if b.Tokens() != 11 {
		t.Errorf("Tokens() = %d, want 11", b.Tokens())
	}
}

func TestBuffer_MessagesIsACopy(t *testing.T) {
	t.Parallel()

	b := ctxengine.NewBuffer(ctxengine.BufferConfig{}, nil)
	b.Push(user, "bir")
	got := b.Messages()
	got[0].Content = "changed"

	if b.Messages()[0].Content != "bir" {
		t.Error("Messages() exposed internal state")
	}
}

func TestBuffer_Reset(t *testing.T) {
	t.Parallel()

	b := ctxengine.NewBuffer(ctxengine.BufferConfig{}, nil)
	b.Load(makeTestMessages(4))
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d", b.Len())
	}
}

func TestBuffer_ConcurrentPush(t *testing.T) {
	t.Parallel()

	b := ctxengine.NewBuffer(ctxengine.BufferConfig{MaxMessages: -1}, nil)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Push(user, "x")
		}()
	}
	wg.Wait()

	if b.Len() != 50 {
		t.Errorf("Len() = %d, want 50", b.Len())
	}
}
