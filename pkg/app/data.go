package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
)

// SeedRecord is one entry of a seed file. Tags may be a comma-separated
// string or a list. A conv_id adds a conv:<id> tag.
type SeedRecord struct {
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Text      string     `json:"text"`
	Source    string     `json:"source"`
	Tags      flexTags   `json:"tags"`
	ExpiresAt flexTime   `json:"expires_at"`
	ConvID    flexString `json:"conv_id"`
}

// seedBatch bounds one embedding request.
const seedBatch = 64

// Seed loads a JSON array of SeedRecord from r and inserts every entry
// without the novelty gate. Records without a user belong to the default
// user. It returns how many memories were inserted.
func (a *App) Seed(ctx context.Context, r io.Reader) (int, error) {
	var records []SeedRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("seed: decode: %w", err)
	}

	items := make([]memory.NewMemory, 0, len(records))
	for i, rec := range records {
		n, err := rec.toNewMemory(a.UserID())
		if err != nil {
			return 0, fmt.Errorf("seed: entry %d: %w", i, err)
		}
		items = append(items, n)
	}

	inserted := 0
	for start := 0; start < len(items); start += seedBatch {
		batch := items[start:min(start+seedBatch, len(items))]
		texts := make([]string, len(batch))
		for i, n := range batch {
			texts[i] = n.Text
		}
		vecs, err := a.Engine.Embedder().Embed(ctx, texts)
		if err != nil {
			return inserted, fmt.Errorf("seed: embed: %w", err)
		}
		if len(vecs) != len(batch) {
			return inserted, fmt.Errorf("seed: embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for i, n := range batch {
			n.Embedding = vecs[i]
			if _, err := a.Engine.Insert(ctx, n); err != nil {
				return inserted, fmt.Errorf("seed: entry %d: %w", start+i, err)
			}
			inserted++
		}
	}
	a.Logger.Info("seed: memories loaded", "count", inserted)
	return inserted, nil
}

func (rec SeedRecord) toNewMemory(defaultUser string) (memory.NewMemory, error) {
	kind, err := memory.ParseKind(rec.Kind)
	if err != nil {
		return memory.NewMemory{}, err
	}
	user := strings.TrimSpace(rec.UserID)
	if user == "" {
		user = defaultUser
	}
	tags := []string(rec.Tags)
	if rec.ConvID != "" {
		tags = append(tags, memory.ConvTag(string(rec.ConvID)))
	}
	if strings.TrimSpace(rec.Text) == "" {
		return memory.NewMemory{}, memory.ErrEmptyText
	}
	return memory.NewMemory{
		UserID:    user,
		Kind:      kind,
		Text:      rec.Text,
		Source:    rec.Source,
		Tags:      tags,
		ExpiresAt: rec.ExpiresAt.t,
	}, nil
}

// exportPage is the List page size used by Export.
const exportPage = 500

// Export writes every memory, embeddings included, as an indented JSON
// array ordered by id. userID restricts the export when non-empty.
func (a *App) Export(ctx context.Context, w io.Writer, userID string) (int, error) {
	all := []memory.Memory{}
	var after int64
	for {
		page, err := a.Engine.Store().List(ctx, memory.ListOptions{UserID: userID, AfterID: after, Limit: exportPage})
		if err != nil {
			return 0, fmt.Errorf("export: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPage {
			break
		}
		after = page[len(page)-1].ID
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(all); err != nil {
		return 0, fmt.Errorf("export: encode: %w", err)
	}
	return len(all), nil
}

// resetter is implemented by the store published as memory.maintenance.
type resetter interface {
	Reset(ctx context.Context) error
}

// clearer is implemented by a secondary index published as memory.indexer.
type clearer interface {
	Clear(ctx context.Context) error
}

// Reset deletes every memory, conversation and message, and empties the
// nearest-neighbour index when one is configured.
func (a *App) Reset(ctx context.Context) error {
	r, err := core.LookupService[resetter](a.ctx, memory.ServiceMaintenance)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := r.Reset(ctx); err != nil {
		return err
	}
	if ix, err := core.LookupService[clearer](a.ctx, memory.ServiceIndexer); err == nil {
		if err := ix.Clear(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	a.Logger.Warn("reset: every memory and conversation was deleted")
	return nil
}

// flexTags accepts "a, b" as well as ["a", "b"].
type flexTags []string

func (t *flexTags) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = memory.SplitTags(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("tags must be a string or a list of strings")
	}
	*t = list
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("conv_id must be a string or a number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("conv_id %s is not an integer", n)
	}
	*f = flexString(n.String())
	return nil
}

// flexTime accepts RFC 3339 and the storage layout.
type flexTime struct {
	t *time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("expires_at must be a string")
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		f.t = nil
		return nil
	}
	for _, layout := range []string{time.RFC3339, memory.TimeLayout} {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			t = t.UTC()
			f.t = &t
			return nil
		}
	}
	return fmt.Errorf("expires_at %q is neither RFC 3339 nor %q", *s, memory.TimeLayout)
}
