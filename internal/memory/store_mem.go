package memory

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe, in-memory implementation of Store.
// Text candidates use the same token-prefix semantics as the FTS5 query.
type InMemoryStore struct {
	mu     sync.RWMutex
	rows   []Memory // ascending id
	nextID int64
	now    func() time.Time
}

// NewInMemoryStore creates a new empty memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1, now: time.Now}
}

// SetClock replaces the clock used for created_at and candidate ages.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Compile-time interface check.
var _ Store = (*InMemoryStore)(nil)

// Insert implements Store.
func (s *InMemoryStore) Insert(_ context.Context, n NewMemory) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := n.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	m := Memory{
		ID:        s.nextID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Text:      n.Text,
		Embedding: slices.Clone(n.Embedding),
		Source:    n.Source,
		Tags:      slices.Clone(n.Tags),
		ConvScope: n.ConvScope(),
		CreatedAt: created.UTC().Truncate(time.Second),
		ExpiresAt: n.ExpiresAt,
		Dim:       len(n.Embedding),
	}
	s.nextID++
	s.rows = append(s.rows, m)
	return m.ID, nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id int64) (Memory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.find(id)
	if !ok {
		return Memory{}, false, nil
	}
	return clone(s.rows[i]), true, nil
}

// UpdateText implements Store.
func (s *InMemoryStore) UpdateText(_ context.Context, id int64, text string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.find(id)
	if !ok {
		return nil
	}
	s.rows[i].Text = text
	s.rows[i].Embedding = slices.Clone(embedding)
	s.rows[i].Dim = len(embedding)
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.find(id); ok {
		s.rows = slices.Delete(s.rows, i, i+1)
	}
	return nil
}

// TextCandidates implements Store.
func (s *InMemoryStore) TextCandidates(_ context.Context, userID, ftsQuery string, scope Scope, limit int) ([]Candidate, error) {
	prefixes := ParseFTSQuery(ftsQuery)
	if len(prefixes) == 0 || limit <= 0 {
		return []Candidate{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := []Candidate{}
	for _, m := range s.rows {
		if len(out) >= limit {
			break
		}
		if m.UserID != userID || !m.InScope(scope.ConvID) || !MatchesPrefixes(m.Text, prefixes) {
			continue
		}
		out = append(out, candidate(m, now))
	}
	return out, nil
}

// RecentCandidates implements Store.
func (s *InMemoryStore) RecentCandidates(_ context.Context, userID string, scope Scope, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return []Candidate{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := []Candidate{}
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.rows[i]
		if m.UserID != userID || !m.InScope(scope.ConvID) {
			continue
		}
		out = append(out, candidate(m, now))
	}
	return out, nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, opts ListOptions) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Memory{}
	for _, m := range s.rows {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		if m.ID <= opts.AfterID || (opts.UserID != "" && m.UserID != opts.UserID) {
			continue
		}
		out = append(out, clone(m))
	}
	return out, nil
}

// CountByUser implements Store.
func (s *InMemoryStore) CountByUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.rows {
		if m.UserID == userID {
			n++
		}
	}
	return n, nil
}

// Dimension implements Store.
func (s *InMemoryStore) Dimension(_ context.Context, userID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].UserID == userID {
			return s.rows[i].Dim, true, nil
		}
	}
	return 0, false, nil
}

// find returns the slice index of id. Rows are sorted by id.
func (s *InMemoryStore) find(id int64) (int, bool) {
	return slices.BinarySearchFunc(s.rows, id, func(m Memory, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
}

func candidate(m Memory, now time.Time) Candidate {
	return Candidate{Memory: clone(m), AgeSeconds: now.Sub(m.CreatedAt).Seconds()}
}

func clone(m Memory) Memory {
	m.Embedding = slices.Clone(m.Embedding)
	m.Tags = slices.Clone(m.Tags)
	return m
}
