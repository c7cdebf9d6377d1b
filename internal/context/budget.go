package ctxengine

import (
	"unicode/utf8"

	"github.com/flemzord/hafiza/internal/provider"
)

// MessageOverhead is the per-message cost added for role and formatting.
const MessageOverhead = 4

// TokenEstimator estimates the token count of a string.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens using a characters-per-token ratio,
// counting runes so Turkish text is not overcounted.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns floor(runes / ratio), never less than 1.
func (e *CharEstimator) Estimate(text string) int {
	return max(1, int(float64(utf8.RuneCountInString(text))/e.CharsPerToken))
}

// MessageCost returns the estimated tokens of one message.
func MessageCost(estimator TokenEstimator, m provider.LLMMessage) int {
	return estimator.Estimate(m.Content) + MessageOverhead
}

// EstimateMessages returns the total estimated tokens for a slice of LLM messages.
func EstimateMessages(estimator TokenEstimator, messages []provider.LLMMessage) int {
	total := 0
	for i := range messages {
		total += MessageCost(estimator, messages[i])
	}
	return total
}

// ContextBudget tracks token allocation across prompt sections.
type ContextBudget struct {
	WindowSize int // total context window in tokens, 0 when unknown
	System     int // tokens used by the instructions
	Memory     int // tokens used by injected memory lines
	History    int // tokens used by conversation history
	Reserved   int // reserved for model reply
}

// Used returns the total number of tokens consumed across all sections.
func (b ContextBudget) Used() int {
	return b.System + b.Memory + b.History + b.Reserved
}

// Available returns the number of tokens remaining for additional content.
// Returns 0 if the budget is already exceeded.
func (b ContextBudget) Available() int {
	return max(0, b.WindowSize-b.Used())
}

// Exceeded reports whether total usage exceeds a known context window.
func (b ContextBudget) Exceeded() bool {
	return b.WindowSize > 0 && b.Used() > b.WindowSize
}
