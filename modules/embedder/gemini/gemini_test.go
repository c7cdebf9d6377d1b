package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/api/googleapi"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/memory"
)

type fakeBackend struct {
	calls [][]string
	err   error
	short bool
}

func (f *fakeBackend) embedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestEmbed_SplitsBatches(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	e := &Embedder{model: DefaultModel, backend: backend}

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = strings.Repeat("a", i%7+1)
	}

	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 250 {
		t.Fatalf("len = %d, want 250", len(vecs))
	}
	if len(backend.calls) != 3 || len(backend.calls[2]) != 50 {
		t.Errorf("batches = %d (last %d), want 3 (last 50)", len(backend.calls), len(backend.calls[len(backend.calls)-1]))
	}
	if vecs[13][0] != float32(len(texts[13])) {
		t.Errorf("order lost: vecs[13] = %v", vecs[13])
	}
	if e.Dimensions() != 4 {
		t.Errorf("Dimensions = %d, want 4", e.Dimensions())
	}
	if e.Model() != DefaultModel {
		t.Errorf("Model = %q", e.Model())
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		backend         *fakeBackend
		wantUnavailable bool
	}{
		{"rate limited", &fakeBackend{err: &googleapi.Error{Code: http.StatusTooManyRequests}}, true},
		{"server", &fakeBackend{err: &googleapi.Error{Code: http.StatusInternalServerError}}, true},
		{"forbidden", &fakeBackend{err: &googleapi.Error{Code: http.StatusForbidden}}, true},
		{"bad request", &fakeBackend{err: &googleapi.Error{Code: http.StatusBadRequest}}, false},
		{"transport", &fakeBackend{err: errors.New("dial tcp: refused")}, true},
		{"short batch", &fakeBackend{short: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := &Embedder{model: DefaultModel, backend: tt.backend}
			_, err := e.Embed(context.Background(), []string{"a", "b"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, memory.ErrEmbedderUnavailable); got != tt.wantUnavailable {
				t.Errorf("errors.Is(ErrEmbedderUnavailable) = %v, want %v (%v)", got, tt.wantUnavailable, err)
			}
		})
	}
}

func TestValidate_MissingKey(t *testing.T) {
	t.Setenv("HAFIZA_TEST_GEMINI_KEY", "")

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("api_key_env: HAFIZA_TEST_GEMINI_KEY\n"), &node); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m := &Module{}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if m.config.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", m.config.Model, DefaultModel)
	}
	if err := m.Validate(); !errors.Is(err, memory.ErrEmbedderUnavailable) {
		t.Fatalf("Validate = %v, want ErrEmbedderUnavailable", err)
	}

	t.Setenv("HAFIZA_TEST_GEMINI_KEY", "secret")
	if err := m.Validate(); err != nil {
		t.Errorf("Validate with key = %v", err)
	}
}
