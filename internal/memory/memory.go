// Package memory implements long-term memory for a personal assistant:
// the record model, candidate prefiltering, hybrid scoring, scoped retrieval
// and the similarity-gated upsert that keeps near-duplicates out.
package memory

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind classifies a memory. It controls default tagging.
type Kind string

// Kind constants.
const (
	KindPreference Kind = "preference"
	KindProfile    Kind = "profile"
	KindFact       Kind = "fact"
	KindNote       Kind = "note"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindPreference, KindProfile, KindFact, KindNote}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// ParseKind converts s to a Kind. An empty string yields KindNote.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindNote, nil
	}
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Scope names reported on hits.
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// TagGlobal marks a memory visible across every conversation of its user.
const TagGlobal = "global"

// ConvTagPrefix starts the tag tying a memory to one conversation.
const ConvTagPrefix = "conv:"

// ConvTag returns the scope token for conversation convID.
func ConvTag(convID string) string {
	return ConvTagPrefix + convID
}

// TimeLayout is the textual form of timestamps in storage and context lines.
const TimeLayout = "2006-01-02 15:04:05"

// Memory is one persisted unit of long-term knowledge.
type Memory struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      Kind       `json:"kind"`
	Text      string     `json:"text"`
	Embedding []float32  `json:"embedding,omitempty"`
	Source    string     `json:"source,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	ConvScope string     `json:"conv_scope,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Dim       int        `json:"dim"`
}

// HasTag reports whether tag is present on m.
func (m Memory) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// InScope reports whether m belongs to conversation convID, either through
// its conversation-scope column or a conv:<id> token in tags or source.
func (m Memory) InScope(convID string) bool {
	if convID == "" {
		return true
	}
	if m.ConvScope == convID {
		return true
	}
	token := ConvTag(convID)
	return m.HasTag(token) || slices.Contains(SplitTags(m.Source), token)
}

// NewMemory is the input of an insert.
type NewMemory struct {
	UserID    string
	Kind      Kind
	Text      string
	Embedding []float32
	Source    string
	Tags      []string
	ExpiresAt *time.Time

	// CreatedAt overrides the store clock when set. Imports use it.
	CreatedAt time.Time
}

// Validate checks the fields every store requires.
func (n NewMemory) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return ErrEmptyUser
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, n.Kind)
	}
	if strings.TrimSpace(n.Text) == "" {
		return ErrEmptyText
	}
	if len(n.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	return nil
}

// Normalized returns a copy with trimmed text and kind-normalized tags.
func (n NewMemory) Normalized() NewMemory {
	n.Text = strings.TrimSpace(n.Text)
	n.Tags = NormalizeTags(n.Kind, n.Tags...)
	return n
}

// ConvScope returns the conversation id named by the first conv:<id> tag.
func (n NewMemory) ConvScope() string {
	return ConvScopeFromTags(n.Tags)
}

// Candidate is a memory row returned by the prefilter together with its age.
type Candidate struct {
	Memory
	AgeSeconds float64
}

// Hit is a scored candidate.
type Hit struct {
	Memory
	Cosine  float64 `json:"cosine"`
	Recency float64 `json:"recency"`
	Score   float64 `json:"score"`
	Scope   string  `json:"scope"`
}

// Scope restricts candidate queries to one conversation. The zero value
// means no restriction.
type Scope struct {
	ConvID string
}

// IsZero reports whether s applies no restriction.
func (s Scope) IsZero() bool { return s.ConvID == "" }
