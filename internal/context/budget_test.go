package ctxengine_test

import (
	"testing"

	ctxengine "github.com/flemzord/hafiza/internal/context"
	"github.com/flemzord/hafiza/internal/provider"
)

// Compile-time interface guard: CharEstimator must satisfy TokenEstimator.
var _ ctxengine.TokenEstimator = (*ctxengine.CharEstimator)(nil)

// ---------------------------------------------------------------------------
// CharEstimator
// ---------------------------------------------------------------------------

func TestNewCharEstimator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		charsPerToken float64
		wantRatio     float64
	}{
		{name: "valid_ratio", charsPerToken: 3.0, wantRatio: 3.0},
		{name: "zero_defaults_to_4", charsPerToken: 0, wantRatio: 4.0},
		{name: "negative_defaults_to_4", charsPerToken: -1.5, wantRatio: 4.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			est := ctxengine.NewCharEstimator(tt.charsPerToken)
			if est.CharsPerToken != tt.wantRatio {
				t.Errorf("NewCharEstimator(%v).CharsPerToken = %v, want %v",
					tt.charsPerToken, est.CharsPerToken, tt.wantRatio)
			}
		})
	}
}

func TestCharEstimator_Estimate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "empty_costs_one", input: "", want: 1},
		{name: "short", input: "abc", want: 1},
		{name: "exact_multiple", input: "abcdefgh", want: 2},
		{name: "floors", input: "abcdefghij", want: 2},
		{name: "counts_runes_not_bytes", input: "şğüöçıŞĞ", want: 2},
	}

	est := ctxengine.NewCharEstimator(4)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := est.Estimate(tt.input); got != tt.want {
				t.Errorf("Estimate(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Message estimation
// ---------------------------------------------------------------------------

func TestEstimateMessages(t *testing.T) {
	t.Parallel()

	est := &mockEstimator{}
	msgs := []provider.LLMMessage{
		msg(provider.MessageRoleUser, "abcd"),
		msg(provider.MessageRoleAssistant, "ef"),
	}
	// (4 + 4) + (2 + 4)
	if got := ctxengine.EstimateMessages(est, msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
	if got := ctxengine.EstimateMessages(est, nil); got != 0 {
		t.Errorf("EstimateMessages(nil) = %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// ContextBudget
// ---------------------------------------------------------------------------

func TestContextBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		budget        ctxengine.ContextBudget
		wantUsed      int
		wantAvailable int
		wantExceeded  bool
	}{
		{
			name:          "fits",
			budget:        ctxengine.ContextBudget{WindowSize: 100, System: 10, Memory: 20, History: 30, Reserved: 10},
			wantUsed:      70,
			wantAvailable: 30,
		},
		{
			name:          "exceeded",
			budget:        ctxengine.ContextBudget{WindowSize: 50, System: 10, Memory: 20, History: 30},
			wantUsed:      60,
			wantAvailable: 0,
			wantExceeded:  true,
		},
		{
			name:          "unknown_window",
			budget:        ctxengine.ContextBudget{System: 10},
			wantUsed:      10,
			wantAvailable: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.budget.Used(); got != tt.wantUsed {
				t.Errorf("Used() = %d, want %d", got, tt.wantUsed)
			}
			if got := tt.budget.Available(); got != tt.wantAvailable {
				t.Errorf("Available() = %d, want %d", got, tt.wantAvailable)
			}
			if got := tt.budget.Exceeded(); got != tt.wantExceeded {
				t.Errorf("Exceeded() = %v, want %v", got, tt.wantExceeded)
			}
		})
	}
}
