package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/hafiza/internal/provider"
)

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	response provider.CompletionResponse
	err      error
	prompt   string
}

func (m *mockProvider) Complete(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	if len(req.Messages) > 0 {
		m.prompt = req.Messages[0].Content
	}
	return m.response, m.err
}

func (m *mockProvider) ModelName() string { return "mock" }

func testExchange() Exchange {
	return Exchange{
		ConvID:           "7",
		UserMessage:      provider.LLMMessage{Role: provider.MessageRoleUser, Content: "Kahvemi sütlü severim. Bugün hava güzel!"},
		AssistantMessage: provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: "Not ettim, sütlü kahve."},
		Timestamp:        time.Now(),
	}
}

func TestLLMExtractor_Extract_ReturnsCandidates(t *testing.T) {
	t.Parallel()

	mp := &mockProvider{
		response: provider.CompletionResponse{
			Content: "- preference: Kahvemi sütlü severim\n- fact: Takım: Beşiktaş",
		},
	}
	extractor := NewLLMExtractor(mp)

	got, err := extractor.Extract(context.Background(), testExchange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0] != (Extraction{Kind: KindPreference, Text: "Kahvemi sütlü severim"}) {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1] != (Extraction{Kind: KindFact, Text: "Takım: Beşiktaş"}) {
		t.Errorf("got[1] = %+v", got[1])
	}
	if mp.prompt == "" {
		t.Error("provider should receive the extraction prompt")
	}
}

func TestLLMExtractor_Extract_NONE(t *testing.T) {
	t.Parallel()

	mp := &mockProvider{
		response: provider.CompletionResponse{Content: "NONE"},
	}
	extractor := NewLLMExtractor(mp)

	got, err := extractor.Extract(context.Background(), testExchange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestLLMExtractor_Extract_ProviderError(t *testing.T) {
	t.Parallel()

	expectedErr := errors.New("provider failed")
	mp := &mockProvider{err: expectedErr}
	extractor := NewLLMExtractor(mp)

	got, err := extractor.Extract(context.Background(), testExchange())
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected error wrapping %v, got %v", expectedErr, err)
	}
	if got != nil {
		t.Fatalf("expected nil candidates, got %v", got)
	}
}

func TestNopExtractor_Extract(t *testing.T) {
	t.Parallel()

	got, err := NopExtractor{}.Extract(context.Background(), testExchange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestParseExtractions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		response  string
		wantLen   int
		wantFirst Extraction
	}{
		{
			name:      "kinds with bullets",
			response:  "- profile: Adım Deniz\n- preference: Çayı şekersiz içerim",
			wantLen:   2,
			wantFirst: Extraction{Kind: KindProfile, Text: "Adım Deniz"},
		},
		{
			name:      "numbered list",
			response:  "1. fact: Works at Acme\n2. note: Call mom",
			wantLen:   2,
			wantFirst: Extraction{Kind: KindFact, Text: "Works at Acme"},
		},
		{
			name:      "unknown prefix becomes note",
			response:  "Team: Beşiktaş",
			wantLen:   1,
			wantFirst: Extraction{Kind: KindNote, Text: "Team: Beşiktaş"},
		},
		{
			name:      "case-insensitive kind",
			response:  "* Preference: dark mode",
			wantLen:   1,
			wantFirst: Extraction{Kind: KindPreference, Text: "dark mode"},
		},
		{name: "empty response", response: "", wantLen: 0},
		{name: "NONE response", response: "none", wantLen: 0},
		{name: "kind without text", response: "fact:", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseExtractions(tt.response)
			if len(got) != tt.wantLen {
				t.Fatalf("got %d candidates, want %d: %v", len(got), tt.wantLen, got)
			}
			if tt.wantLen > 0 && got[0] != tt.wantFirst {
				t.Errorf("got[0] = %+v, want %+v", got[0], tt.wantFirst)
			}
		})
	}
}

func TestHeuristicExtractor(t *testing.T) {
	t.Parallel()

	ex := Exchange{UserMessage: provider.LLMMessage{
		Role:    provider.MessageRoleUser,
		Content: "Merhaba! Kahvemi sütlü severim. Benim adım Deniz. Tuttuğum takım Beşiktaş. Bunu hatırla: yarın toplantı var",
	}}

	got, err := HeuristicExtractor{}.Extract(context.Background(), ex)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := []Extraction{
		{Kind: KindPreference, Text: "Kahvemi sütlü severim"},
		{Kind: KindProfile, Text: "Benim adım Deniz"},
		{Kind: KindFact, Text: "Tuttuğum takım Beşiktaş"},
		{Kind: KindNote, Text: "Bunu hatırla: yarın toplantı var"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestChainExtractor_FallsBack(t *testing.T) {
	t.Parallel()

	failing := NewLLMExtractor(&mockProvider{err: errors.New("down")})
	chain := NewChainExtractor(nil, failing, HeuristicExtractor{})

	got, err := chain.Extract(context.Background(), testExchange())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 || got[0].Kind != KindPreference {
		t.Fatalf("got %v, want the heuristic preference", got)
	}
}

func TestChainExtractor_FirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	llm := NewLLMExtractor(&mockProvider{response: provider.CompletionResponse{Content: "note: from llm"}})
	chain := NewChainExtractor(nil, NopExtractor{}, llm, HeuristicExtractor{})

	got, err := chain.Extract(context.Background(), testExchange())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 || got[0].Text != "from llm" {
		t.Fatalf("got %v, want the llm candidate", got)
	}
}

func TestSplitLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantLen int
	}{
		{name: "empty", input: "", wantLen: 0},
		{name: "single line", input: "hello", wantLen: 1},
		{name: "two lines", input: "hello\nworld", wantLen: 2},
		{name: "trailing newline", input: "hello\n", wantLen: 1},
		{name: "blank lines filtered", input: "hello\n\nworld", wantLen: 2},
		{name: "whitespace only lines", input: "hello\n   \nworld", wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lines := splitLines(tt.input)
			if len(lines) != tt.wantLen {
				t.Fatalf("splitLines(%q): got %d lines, want %d: %v", tt.input, len(lines), tt.wantLen, lines)
			}
		})
	}
}

func TestTrimBullet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"- hello", "hello"},
		{"* hello", "hello"},
		{"1. hello", "hello"},
		{"12. hello", "hello"},
		{"hello", "hello"},
		{"", ""},
		{"-- double dash", "-- double dash"}, // not a valid bullet prefix
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := trimBullet(tt.input)
			if got != tt.want {
				t.Errorf("trimBullet(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
