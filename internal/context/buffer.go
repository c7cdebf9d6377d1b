package ctxengine

import (
	"slices"
	"sync"

	"github.com/flemzord/hafiza/internal/provider"
)

// Buffer is the short-term memory of one conversation: the recent
// messages sent to the model on every turn. It is safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	cfg       BufferConfig
	estimator TokenEstimator
	messages  []provider.LLMMessage
}

// NewBuffer creates an empty buffer. A nil estimator uses a 4 chars per
// token CharEstimator.
func NewBuffer(cfg BufferConfig, estimator TokenEstimator) *Buffer {
	if estimator == nil {
		estimator = NewCharEstimator(4)
	}
	return &Buffer{cfg: cfg.withDefaults(), estimator: estimator}
}

// Load replaces the buffer content with msgs, then trims.
func (b *Buffer) Load(msgs []provider.LLMMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = slices.Clone(msgs)
	b.trim()
}

// Push appends a message, then trims.
func (b *Buffer) Push(role provider.MessageRole, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, provider.LLMMessage{Role: role, Content: content})
	b.trim()
}

// Messages returns a copy of the buffered messages, oldest first.
func (b *Buffer) Messages() []provider.LLMMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.messages)
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Tokens returns the estimated token cost of the buffer.
func (b *Buffer) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return EstimateMessages(b.estimator, b.messages)
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

// trim enforces MaxMessages, then TokenBudget. Each pass drops the oldest
// non-system messages first and touches system messages only when nothing
// else is left to drop. The token pass never drops the last system message.
func (b *Buffer) trim() {
	if limit := b.cfg.MaxMessages; limit > 0 && len(b.messages) > limit {
		b.messages = dropOldest(b.messages, len(b.messages)-limit)
	}

	total := EstimateMessages(b.estimator, b.messages)
	if total <= b.cfg.TokenBudget {
		return
	}
	kept := b.messages[:0]
	for i, m := range b.messages {
		if total > b.cfg.TokenBudget && m.Role != provider.MessageRoleSystem {
			total -= MessageCost(b.estimator, m)
			continue
		}
		kept = append(kept, b.messages[i])
	}
	for total > b.cfg.TokenBudget && len(kept) > 1 {
		total -= MessageCost(b.estimator, kept[0])
		kept = kept[1:]
	}
	b.messages = kept
}

// dropOldest removes n messages, preferring the oldest non-system ones.
func dropOldest(msgs []provider.LLMMessage, n int) []provider.LLMMessage {
	kept := make([]provider.LLMMessage, 0, len(msgs)-n)
	for _, m := range msgs {
		if n > 0 && m.Role != provider.MessageRoleSystem {
			n--
			continue
		}
		kept = append(kept, m)
	}
	if n > 0 {
		kept = kept[n:]
	}
	return kept
}
