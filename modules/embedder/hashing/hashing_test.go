package hashing

import (
	"context"
	"math"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/similarity"
)

func embedOne(t *testing.T, e *Embedder, text string) []float32 {
	t.Helper()
	v, err := memory.EmbedOne(context.Background(), e, text)
	if err != nil {
		t.Fatalf("embed %q: %v", text, err)
	}
	return v
}

func cos(t *testing.T, a, b []float32) float64 {
	t.Helper()
	d, err := similarity.Dot(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return float64(d)
}

func TestEmbedder_UnitNormAndDeterministic(t *testing.T) {
	t.Parallel()

	e := New(128)
	a := embedOne(t, e, "Kahvemi sütlü severim")
	b := embedOne(t, e, "Kahvemi sütlü severim")

	if len(a) != 128 {
		t.Fatalf("len = %d, want 128", len(a))
	}
	if math.Abs(cos(t, a, a)-1) > 1e-5 {
		t.Errorf("self cosine = %v, want 1", cos(t, a, a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs between runs", i)
		}
	}
}

func TestEmbedder_RelatedTextsAreCloser(t *testing.T) {
	t.Parallel()

	e := New(DefaultDimensions)
	q := embedOne(t, e, "kahve süt")
	pref := embedOne(t, e, "Kahvemi sütlü severim")
	team := embedOne(t, e, "Takım: Beşiktaş")

	if cos(t, q, pref) <= cos(t, q, team) {
		t.Errorf("cos(query, preference) = %v should exceed cos(query, team) = %v",
			cos(t, q, pref), cos(t, q, team))
	}
}

func TestEmbedder_EmptyTextIsZero(t *testing.T) {
	t.Parallel()

	v := embedOne(t, New(16), "  ...  ")
	for i, x := range v {
		if x != 0 {
			t.Fatalf("component %d = %v, want 0", i, x)
		}
	}
}

func TestEmbedder_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(8).Embed(ctx, []string{"x"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestModule_Provision(t *testing.T) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte("dimensions: 64"), &node); err != nil {
		t.Fatal(err)
	}

	m := &Module{}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("configure: %v", err)
	}
	app := core.NewAppContext(nil, t.TempDir(), t.TempDir())
	if err := m.Provision(app.ForModule("embedder.hashing")); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	svc, ok := app.GetService(memory.ServiceEmbedder)
	if !ok {
		t.Fatal("embedder service not registered")
	}
	if svc.(memory.Embedder).Dimensions() != 64 {
		t.Errorf("dimensions = %d, want 64", svc.(memory.Embedder).Dimensions())
	}
}
