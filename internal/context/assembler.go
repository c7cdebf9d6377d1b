package ctxengine

import (
	"strings"

	"github.com/flemzord/hafiza/internal/provider"
)

// DefaultInstructions open every system prompt.
const DefaultInstructions = "You are a helpful assistant. Use MEMORY CONTEXT if relevant."

// EmptyMemory stands in for the memory block when nothing was retrieved.
const EmptyMemory = "(none)"

// AssemblyRequest contains the inputs for context assembly.
type AssemblyRequest struct {
	// MemoryLines are the formatted long-term memories for this turn.
	MemoryLines []string

	// History is the short-term buffer content, oldest first.
	History []provider.LLMMessage
}

// AssemblyResult is the output of context assembly.
type AssemblyResult struct {
	// SystemPrompt holds the instructions and the memory block.
	SystemPrompt string

	// Messages is the (possibly trimmed) conversation history.
	Messages []provider.LLMMessage

	// Budget is the token budget breakdown.
	Budget ContextBudget
}

// Request converts the result into a completion request, the system
// prompt first.
func (r AssemblyResult) Request() provider.CompletionRequest {
	msgs := make([]provider.LLMMessage, 0, len(r.Messages)+1)
	msgs = append(msgs, provider.LLMMessage{Role: provider.MessageRoleSystem, Content: r.SystemPrompt})
	msgs = append(msgs, r.Messages...)
	return provider.CompletionRequest{Messages: msgs}
}

// ContextAssembler builds the prompt of one assistant turn.
type ContextAssembler struct {
	estimator TokenEstimator
	config    AssemblerConfig
}

// NewContextAssembler creates a ContextAssembler. A nil estimator uses a
// 4 chars per token CharEstimator.
func NewContextAssembler(estimator TokenEstimator, cfg AssemblerConfig) *ContextAssembler {
	if estimator == nil {
		estimator = NewCharEstimator(4)
	}
	return &ContextAssembler{estimator: estimator, config: cfg.withDefaults()}
}

// Assemble composes the system prompt and, when a window size is
// configured, drops the oldest history until everything fits. The most
// recent message is always kept.
func (a *ContextAssembler) Assemble(req AssemblyRequest) AssemblyResult {
	memory := MemoryBlock(req.MemoryLines)
	systemPrompt := ComposeSystem(a.config.Instructions, req.MemoryLines)

	budget := ContextBudget{
		WindowSize: a.config.WindowSize,
		System:     a.estimator.Estimate(a.config.Instructions),
		Memory:     a.estimator.Estimate(memory),
		Reserved:   a.config.ReservedForReply,
	}

	history := req.History
	if a.config.WindowSize > 0 {
		history = a.trimHistory(history, budget.Available())
	}
	budget.History = EstimateMessages(a.estimator, history)

	return AssemblyResult{
		SystemPrompt: systemPrompt,
		Messages:     history,
		Budget:       budget,
	}
}

// trimHistory removes the oldest messages, preserving the most recent,
// until the history fits within budget.
func (a *ContextAssembler) trimHistory(history []provider.LLMMessage, budget int) []provider.LLMMessage {
	tokens := EstimateMessages(a.estimator, history)
	start := 0
	for tokens > budget && start < len(history)-1 {
		tokens -= MessageCost(a.estimator, history[start])
		start++
	}
	return history[start:]
}

// MemoryBlock joins memory lines, or returns EmptyMemory.
func MemoryBlock(lines []string) string {
	if len(lines) == 0 {
		return EmptyMemory
	}
	return strings.Join(lines, "\n")
}

// ComposeSystem renders the system prompt:
//
//	<instructions>
//
//	MEMORY CONTEXT:
//	<lines or (none)>
func ComposeSystem(instructions string, memoryLines []string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nMEMORY CONTEXT:\n")
	b.WriteString(MemoryBlock(memoryLines))
	b.WriteString("\n")
	return b.String()
}
