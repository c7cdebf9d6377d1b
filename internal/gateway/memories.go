package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/hafiza/internal/memory"
)

// memoryRequest is the body of POST /memories and POST /memories/upsert.
type memoryRequest struct {
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Text      string     `json:"text"`
	Source    string     `json:"source"`
	Tags      []string   `json:"tags"`
	ConvID    string     `json:"conv_id"`
	ExpiresAt *time.Time `json:"expires_at"`

	// Upsert only: per-request overrides of the novelty settings.
	Threshold      *float64 `json:"similarity_threshold,omitempty"`
	MergeIfSimilar *bool    `json:"merge_if_similar,omitempty"`
}

func (g *Gateway) newMemory(req memoryRequest) (memory.NewMemory, error) {
	kind, err := memory.ParseKind(req.Kind)
	if err != nil {
		return memory.NewMemory{}, err
	}
	tags := req.Tags
	if req.ConvID != "" {
		tags = append(tags, memory.ConvTag(req.ConvID))
	}
	return memory.NewMemory{
		UserID:    g.userOr(req.UserID),
		Kind:      kind,
		Text:      req.Text,
		Source:    req.Source,
		Tags:      tags,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

type writeResponse struct {
	ID      int64                `json:"id"`
	Outcome memory.UpsertOutcome `json:"outcome"`
}

func (g *Gateway) handleCreateMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memoryRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		n, err := g.newMemory(req)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		id, outcome, err := g.memories.Remember(r.Context(), n, nil)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, writeResponse{ID: id, Outcome: outcome})
	}
}

func (g *Gateway) handleUpsertMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memoryRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		n, err := g.newMemory(req)
		if err != nil {
			g.fail(w, r, err)
			return
		}

		opts := g.memories.Settings().Novelty()
		if req.Threshold != nil {
			opts.Threshold = *req.Threshold
		}
		if req.MergeIfSimilar != nil {
			opts.MergeIfSimilar = *req.MergeIfSimilar
		}

		id, outcome, err := g.memories.Remember(r.Context(), n, &opts)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		code := http.StatusOK
		if outcome == memory.OutcomeInserted {
			code = http.StatusCreated
		}
		writeJSON(w, code, writeResponse{ID: id, Outcome: outcome})
	}
}

func (g *Gateway) handleGetMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		m, ok, err := g.memories.Get(r.Context(), id)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		if r.URL.Query().Get("embedding") != "true" {
			m.Embedding = nil
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// maxListLimit caps one page of GET /memories.
const maxListLimit = 1000

// handleListMemories pages through memories by ascending id:
// ?user_id=&after=&limit= (limit defaults to 100, capped at maxListLimit).
func (g *Gateway) handleListMemories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, err := queryInt(r, "after")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if limit == 0 {
			limit = 100
		}
		limit = min(limit, maxListLimit)

		rows, err := g.memories.Store().List(r.Context(), memory.ListOptions{
			UserID:  g.userOr(r.URL.Query().Get("user_id")),
			AfterID: after,
			Limit:   int(limit),
		})
		if err != nil {
			g.fail(w, r, err)
			return
		}
		for i := range rows {
			rows[i].Embedding = nil
		}
		if n := len(rows); n > 0 && n == int(limit) {
			w.Header().Set("X-Next-After", strconv.FormatInt(rows[n-1].ID, 10))
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

type updateRequest struct {
	Text string `json:"text"`
}

func (g *Gateway) handleUpdateMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var req updateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, ok, err := g.memories.Get(r.Context(), id); err != nil {
			g.fail(w, r, err)
			return
		} else if !ok {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		if err := g.memories.Rewrite(r.Context(), id, req.Text); err != nil {
			g.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDeleteMemory is idempotent: deleting a missing id succeeds.
func (g *Gateway) handleDeleteMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := g.memories.Delete(r.Context(), id); err != nil {
			g.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// searchRequest is the body of the search and context endpoints. Zero
// fields fall back to the engine settings.
type searchRequest struct {
	UserID     string   `json:"user_id"`
	Query      string   `json:"query"`
	ConvID     string   `json:"conv_id"`
	TopN       int      `json:"topn"`
	TopK       int      `json:"topk"`
	TopKLocal  int      `json:"topk_local"`
	TopKGlobal int      `json:"topk_global"`
	Alpha      *float64 `json:"alpha"`
	Beta       *float64 `json:"beta"`
}

// maxTopK bounds every count a search request may ask for.
const maxTopK = 1000

// validate rejects counts outside [0, maxTopK] and negative weights. Zero
// counts and absent weights keep the engine defaults.
func (req searchRequest) validate() error {
	for _, c := range []struct {
		name string
		v    int
	}{
		{"topn", req.TopN},
		{"topk", req.TopK},
		{"topk_local", req.TopKLocal},
		{"topk_global", req.TopKGlobal},
	} {
		if c.v < 0 || c.v > maxTopK {
			return fmt.Errorf("%s must be between 0 and %d, got %d", c.name, maxTopK, c.v)
		}
	}
	if req.Alpha != nil && *req.Alpha < 0 {
		return fmt.Errorf("alpha must not be negative, got %v", *req.Alpha)
	}
	if req.Beta != nil && *req.Beta < 0 {
		return fmt.Errorf("beta must not be negative, got %v", *req.Beta)
	}
	return nil
}

type searchResponse struct {
	Hits  []memory.Hit `json:"hits"`
	Lines []string     `json:"lines"`
}

func (g *Gateway) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts := g.memories.Settings().Search()
		opts.TopN = orInt(req.TopN, opts.TopN)
		opts.TopK = orInt(req.TopK, opts.TopK)
		opts.Alpha = orFloat(req.Alpha, opts.Alpha)
		opts.Beta = orFloat(req.Beta, opts.Beta)

		hits, err := g.memories.Search(r.Context(), g.userOr(req.UserID), req.Query, opts)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, hitsResponse(hits))
	}
}

func (g *Gateway) handleSearchScoped() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts := g.memories.Settings().Scoped(req.ConvID)
		opts.TopN = orInt(req.TopN, opts.TopN)
		opts.TopKLocal = orInt(req.TopKLocal, opts.TopKLocal)
		opts.TopKGlobal = orInt(req.TopKGlobal, opts.TopKGlobal)
		opts.Alpha = orFloat(req.Alpha, opts.Alpha)
		opts.Beta = orFloat(req.Beta, opts.Beta)

		hits, err := g.memories.SearchScoped(r.Context(), g.userOr(req.UserID), req.Query, opts)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, hitsResponse(hits))
	}
}

func (g *Gateway) handleContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts := g.memories.Settings().Context(req.ConvID)
		opts.TopN = orInt(req.TopN, opts.TopN)
		opts.TopK = orInt(req.TopK, opts.TopK)
		opts.TopKLocal = orInt(req.TopKLocal, opts.TopKLocal)
		opts.TopKGlobal = orInt(req.TopKGlobal, opts.TopKGlobal)
		opts.Alpha = orFloat(req.Alpha, opts.Alpha)
		opts.Beta = orFloat(req.Beta, opts.Beta)

		lines, err := g.memories.RetrieveContext(r.Context(), g.userOr(req.UserID), req.Query, opts)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Hits: []memory.Hit{}, Lines: lines})
	}
}

// hitsResponse strips embeddings and adds the context line of every hit.
func hitsResponse(hits []memory.Hit) searchResponse {
	out := searchResponse{Hits: make([]memory.Hit, len(hits))}
	for i, h := range hits {
		h.Embedding = nil
		out.Hits[i] = h
	}
	out.Lines = memory.FormatLines(out.Hits)
	return out
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orFloat(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
