package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flemzord/hafiza/internal/memory"
)

func TestObserver(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveSearch("global", 3*time.Millisecond, 4, nil)
	m.ObserveSearch("global", time.Millisecond, 0, errors.New("boom"))
	m.ObserveSearch("scoped", time.Millisecond, 2, nil)
	m.ObserveUpsert(memory.OutcomeInserted)
	m.ObserveUpsert(memory.OutcomeDuplicate)
	m.ObserveUpsert(memory.OutcomeDuplicate)
	m.ObserveSkippedDimension(3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"global ok", testutil.ToFloat64(m.searches.WithLabelValues("global", "ok")), 1},
		{"global error", testutil.ToFloat64(m.searches.WithLabelValues("global", "error")), 1},
		{"scoped ok", testutil.ToFloat64(m.searches.WithLabelValues("scoped", "ok")), 1},
		{"inserted", testutil.ToFloat64(m.upserts.WithLabelValues("inserted")), 1},
		{"duplicate", testutil.ToFloat64(m.upserts.WithLabelValues("duplicate")), 2},
		{"skipped dims", testutil.ToFloat64(m.skippedDims), 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestObserveCompletion(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveCompletion(time.Second, 120, nil)
	m.ObserveCompletion(time.Second, 0, errors.New("down"))

	if got := testutil.ToFloat64(m.completions.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.completions.WithLabelValues("error")); got != 1 {
		t.Errorf("error completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.completionTokens); got != 120 {
		t.Errorf("tokens = %v, want 120", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	t.Parallel()

	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/memories/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memories/"+id, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/memories/{id}", "404")); got != 3 {
		t.Errorf("requests = %v, want 3 under one route label", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "hafiza_http_requests_total") {
		t.Errorf("exposition missing hafiza_http_requests_total:\n%s", body)
	}
}
