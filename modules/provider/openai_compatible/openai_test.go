package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/provider"
)

func newTestProvider(baseURL string) *Provider {
	return &Provider{
		config: Config{
			BaseURL: baseURL,
			APIKey:  "test-key",
			Model:   "test-model",
			Timeout: 5 * time.Second,
		},
		client: &http.Client{Timeout: 5 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func okResponse(content string) chatResponse {
	return chatResponse{
		Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func hi() provider.CompletionRequest {
	return provider.CompletionRequest{
		Messages: []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: "Hi"}},
	}
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	yamlData := `
base_url: "https://api.example.com/v1/"
api_key: "sk-test-123"
model: "gpt-4o-mini"
max_tokens: 1024
temperature: 0.2
headers:
  X-Custom: "value"
timeout: 90s
`
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(yamlData), &node); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}

	p := &Provider{}
	if err := p.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if p.config.BaseURL != "https://api.example.com/v1" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", p.config.BaseURL)
	}
	if p.config.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", p.config.Model)
	}
	if p.config.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", p.config.MaxTokens)
	}
	if p.config.Temperature == nil || *p.config.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", p.config.Temperature)
	}
	if p.config.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", p.config.Timeout)
	}
	if v := p.config.Headers["X-Custom"]; v != "value" {
		t.Errorf("Headers[X-Custom] = %q, want %q", v, "value")
	}
}

func TestConfigure_Defaults(t *testing.T) {
	t.Parallel()

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("base_url: http://localhost:11434/v1\nmodel: llama3\n"), &node); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}

	p := &Provider{}
	if err := p.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if p.config.Timeout != 60*time.Second {
		t.Errorf("default Timeout = %v, want 60s", p.config.Timeout)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v (keyless local endpoints are allowed)", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"missing base_url", Config{Model: "m"}, "base_url"},
		{"bad scheme", Config{BaseURL: "ftp://x", Model: "m"}, "scheme"},
		{"missing model", Config{BaseURL: "https://x"}, "model"},
		{"negative max_tokens", Config{BaseURL: "https://x", Model: "m", MaxTokens: -1}, "max_tokens"},
		{"valid", Config{BaseURL: "https://x", Model: "m", APIKey: "k"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &Provider{config: tt.config}
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("HAFIZA_TEST_LLM_KEY", "from-env")

	c := Config{APIKeyEnv: "HAFIZA_TEST_LLM_KEY"}
	if got := c.apiKey(); got != "from-env" {
		t.Errorf("apiKey() = %q, want from-env", got)
	}
	c.APIKey = "inline"
	if got := c.apiKey(); got != "inline" {
		t.Errorf("apiKey() = %q, want inline key to win", got)
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, okResponse("Merhaba!"))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	resp, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: "You are a helpful assistant."},
			{Role: provider.MessageRoleUser, Content: "Selam"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Merhaba!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Merhaba!")
	}
	if resp.FinishReason != provider.FinishReasonStop {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, chatResponse{})
	}))
	defer srv.Close()

	resp, err := newTestProvider(srv.URL).Complete(context.Background(), hi())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
}

func TestComplete_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":"slow down"}`, provider.ErrRateLimit},
		{"server error", http.StatusBadGateway, `upstream`, provider.ErrProviderDown},
		{"context length", http.StatusBadRequest, `{"error":{"code":"context_length_exceeded"}}`, provider.ErrContextLength},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, provider.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestProvider(srv.URL).Complete(context.Background(), hi())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestComplete_PlainBadRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unknown model"}`)
	}))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).Complete(context.Background(), hi())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if provider.IsRetryable(err) {
		t.Errorf("bad request must not be retryable: %v", err)
	}
}

func TestCustomHeaders(t *testing.T) {
	t.Parallel()

	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		writeJSON(w, okResponse("ok"))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	p.config.Headers = map[string]string{"X-Custom-Header": "custom-value"}

	if _, err := p.Complete(context.Background(), hi()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if v := gotHeaders.Get("X-Custom-Header"); v != "custom-value" {
		t.Errorf("X-Custom-Header = %q, want %q", v, "custom-value")
	}
}

func TestConfigFallbacks(t *testing.T) {
	t.Parallel()

	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = chatRequest{}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, okResponse("ok"))
	}))
	defer srv.Close()

	temp := 0.3
	p := newTestProvider(srv.URL)
	p.config.MaxTokens = 2048
	p.config.Temperature = &temp

	if _, err := p.Complete(context.Background(), hi()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotBody.MaxTokens != 2048 {
		t.Errorf("max_tokens = %d, want 2048 (config fallback)", gotBody.MaxTokens)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", gotBody.Temperature)
	}

	req := hi()
	req.MaxTokens = 512
	if _, err := p.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotBody.MaxTokens != 512 {
		t.Errorf("max_tokens = %d, want 512 (explicit override)", gotBody.MaxTokens)
	}
}

func TestComplete_ContextCancelNotProviderDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestProvider(srv.URL).Complete(ctx, hi())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, provider.ErrProviderDown) {
		t.Errorf("cancellation reported as provider down: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestModelName(t *testing.T) {
	t.Parallel()

	p := &Provider{config: Config{Model: "gpt-4o-mini"}}
	if got := p.ModelName(); got != "gpt-4o-mini" {
		t.Errorf("ModelName() = %q, want %q", got, "gpt-4o-mini")
	}
}
