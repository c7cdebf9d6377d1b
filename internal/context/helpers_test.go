package ctxengine_test

import (
	"fmt"
	"strings"

	"github.com/flemzord/hafiza/internal/provider"
)

// mockEstimator implements ctxengine.TokenEstimator for tests.
type mockEstimator struct{}

func (m *mockEstimator) Estimate(text string) int { return len(text) }

// makeTestMessages creates n alternating user/assistant messages.
func makeTestMessages(n int) []provider.LLMMessage {
	msgs := make([]provider.LLMMessage, n)
	for i := range msgs {
		role := provider.MessageRoleUser
		if i%2 == 1 {
			role = provider.MessageRoleAssistant
		}
		msgs[i] = provider.LLMMessage{Role: role, Content: fmt.Sprintf("msg-%d", i)}
	}
	return msgs
}

func contents(msgs []provider.LLMMessage) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, ",")
}

func msg(role provider.MessageRole, content string) provider.LLMMessage {
	return provider.LLMMessage{Role: role, Content: content}
}
