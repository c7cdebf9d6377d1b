package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/provider"
)

type fakeGenerator struct {
	resp *genai.GenerateContentResponse
	err  error

	system   *genai.Content
	history  []*genai.Content
	last     []genai.Part
	settings settings
}

func (f *fakeGenerator) generate(_ context.Context, system *genai.Content, history []*genai.Content, last []genai.Part, s settings) (*genai.GenerateContentResponse, error) {
	f.system, f.history, f.last, f.settings = system, history, last, s
	return f.resp, f.err
}

func textResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(text)}},
			FinishReason: reason,
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3, TotalTokenCount: 10},
	}
}

func TestConfigureDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("max_tokens: 256\n"), &node); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p := &Provider{}
	if err := p.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if p.config.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", p.config.Model, DefaultModel)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if p.ModelName() != DefaultModel {
		t.Errorf("ModelName = %q", p.ModelName())
	}
}

func TestValidateMissingKey(t *testing.T) {
	t.Setenv("HAFIZA_TEST_NO_KEY", "")

	p := &Provider{config: Config{APIKeyEnv: "HAFIZA_TEST_NO_KEY"}}
	p.config.defaults()
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "HAFIZA_TEST_NO_KEY") {
		t.Fatalf("Validate = %v, want missing key error", err)
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{resp: textResponse("Kahveni sütlü seviyorsun.", genai.FinishReasonStop)}
	p := &Provider{config: Config{Model: DefaultModel, MaxTokens: 128}, gen: gen}

	resp, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: "You are a helpful assistant."},
			{Role: provider.MessageRoleUser, Content: "Selam"},
			{Role: provider.MessageRoleAssistant, Content: "Merhaba"},
			{Role: provider.MessageRoleUser, Content: "Kahvemi nasıl severim?"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Kahveni sütlü seviyorsun." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != provider.FinishReasonStop {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 10 || resp.Usage.PromptTokens != 7 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if gen.system == nil || gen.system.Parts[0] != genai.Text("You are a helpful assistant.") {
		t.Errorf("system = %+v", gen.system)
	}
	if len(gen.history) != 2 || gen.history[0].Role != "user" || gen.history[1].Role != "model" {
		t.Errorf("history roles wrong: %+v", gen.history)
	}
	if len(gen.last) != 1 || gen.last[0] != genai.Text("Kahvemi nasıl severim?") {
		t.Errorf("last = %+v", gen.last)
	}
	if gen.settings.maxTokens != 128 {
		t.Errorf("maxTokens = %d, want config fallback 128", gen.settings.maxTokens)
	}
}

func TestComplete_NoUserContent(t *testing.T) {
	t.Parallel()

	p := &Provider{gen: &fakeGenerator{}}
	_, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.LLMMessage{{Role: provider.MessageRoleSystem, Content: "sys"}},
	})
	if err == nil {
		t.Fatal("expected error for a system-only request")
	}
}

func TestComplete_NotProvisioned(t *testing.T) {
	t.Parallel()

	_, err := (&Provider{}).Complete(context.Background(), provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrProviderDown", err)
	}
}

func TestComplete_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limit", &googleapi.Error{Code: http.StatusTooManyRequests}, provider.ErrRateLimit},
		{"server", &googleapi.Error{Code: http.StatusServiceUnavailable}, provider.ErrProviderDown},
		{"auth", &googleapi.Error{Code: http.StatusForbidden}, provider.ErrAuthentication},
		{"too many tokens", &googleapi.Error{Code: http.StatusBadRequest, Message: "input token count exceeds the maximum"}, provider.ErrContextLength},
		{"transport", errors.New("connection reset"), provider.ErrProviderDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &Provider{gen: &fakeGenerator{err: tt.err}}
			_, err := p.Complete(context.Background(), provider.CompletionRequest{
				Messages: []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: "hi"}},
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		resp       *genai.GenerateContentResponse
		wantText   string
		wantReason provider.FinishReason
	}{
		{"nil", nil, "", ""},
		{"no candidates", &genai.GenerateContentResponse{}, "", ""},
		{"max tokens", textResponse("kesik", genai.FinishReasonMaxTokens), "kesik", provider.FinishReasonLength},
		{"safety", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, "", provider.FinishReasonFiltering},
		{
			"multi part",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("a"), genai.Text("b")}},
			}}},
			"ab", provider.FinishReasonStop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseResponse(tt.resp)
			if got.Content != tt.wantText || got.FinishReason != tt.wantReason {
				t.Errorf("got %q/%q, want %q/%q", got.Content, got.FinishReason, tt.wantText, tt.wantReason)
			}
		})
	}
}
