package memory

import (
	"errors"
	"fmt"
)

// Settings holds the engine-wide retrieval and novelty defaults. Callers
// derive per-call options from it and override what they need.
type Settings struct {
	TopN       int     `yaml:"topn"`
	TopK       int     `yaml:"topk"`
	TopKLocal  int     `yaml:"topk_local"`
	TopKGlobal int     `yaml:"topk_global"`
	Alpha      float64 `yaml:"alpha"`
	Beta       float64 `yaml:"beta"`
	WLocal     float64 `yaml:"w_local"`
	WGlobal    float64 `yaml:"w_global"`

	Threshold      float64 `yaml:"similarity_threshold"`
	RecentLimit    int     `yaml:"recent_limit"`
	MergeIfSimilar bool    `yaml:"merge_if_similar"`
}

// DefaultSettings returns the stock configuration.
func DefaultSettings() Settings {
	return Settings{
		TopN:        100,
		TopK:        5,
		TopKLocal:   5,
		TopKGlobal:  5,
		Alpha:       DefaultAlpha,
		Beta:        DefaultBeta,
		WLocal:      1,
		WGlobal:     1,
		Threshold:   0.84,
		RecentLimit: 200,
	}
}

// Validate checks ranges.
func (s Settings) Validate() error {
	var errs []error
	if s.TopN <= 0 {
		errs = append(errs, fmt.Errorf("topn must be positive, got %d", s.TopN))
	}
	if s.TopK < 0 || s.TopKLocal < 0 || s.TopKGlobal < 0 {
		errs = append(errs, errors.New("topk values must not be negative"))
	}
	if s.Alpha < 0 || s.Beta < 0 || s.WLocal < 0 || s.WGlobal < 0 {
		errs = append(errs, errors.New("alpha, beta and pool weights must not be negative"))
	}
	if s.Threshold < -1 || s.Threshold > 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be within [-1, 1], got %v", s.Threshold))
	}
	if s.RecentLimit <= 0 {
		errs = append(errs, fmt.Errorf("recent_limit must be positive, got %d", s.RecentLimit))
	}
	return errors.Join(errs...)
}

// SearchOptions controls a global search.
type SearchOptions struct {
	TopN  int
	TopK  int
	Alpha float64
	Beta  float64
}

// ScopedOptions controls a local+global search.
type ScopedOptions struct {
	ConvID     string
	TopN       int
	TopKLocal  int
	TopKGlobal int
	WLocal     float64
	WGlobal    float64
	Alpha      float64
	Beta       float64
}

// ContextOptions controls RetrieveContext. An empty ConvID searches
// globally. TopK bounds the deduplicated result; zero keeps everything
// in scoped mode.
type ContextOptions struct {
	ConvID     string
	TopN       int
	TopK       int
	TopKLocal  int
	TopKGlobal int
	WLocal     float64
	WGlobal    float64
	Alpha      float64
	Beta       float64
}

// NoveltyOptions controls UpsertIfNovel.
type NoveltyOptions struct {
	Threshold      float64
	RecentLimit    int
	MergeIfSimilar bool
}

// Search derives global search options.
func (s Settings) Search() SearchOptions {
	return SearchOptions{TopN: s.TopN, TopK: s.TopK, Alpha: s.Alpha, Beta: s.Beta}
}

// Scoped derives scoped search options for convID.
func (s Settings) Scoped(convID string) ScopedOptions {
	return ScopedOptions{
		ConvID:     convID,
		TopN:       s.TopN,
		TopKLocal:  s.TopKLocal,
		TopKGlobal: s.TopKGlobal,
		WLocal:     s.WLocal,
		WGlobal:    s.WGlobal,
		Alpha:      s.Alpha,
		Beta:       s.Beta,
	}
}

// Context derives RetrieveContext options for convID.
func (s Settings) Context(convID string) ContextOptions {
	return ContextOptions{
		ConvID:     convID,
		TopN:       s.TopN,
		TopK:       s.TopK,
		TopKLocal:  s.TopKLocal,
		TopKGlobal: s.TopKGlobal,
		WLocal:     s.WLocal,
		WGlobal:    s.WGlobal,
		Alpha:      s.Alpha,
		Beta:       s.Beta,
	}
}

// Novelty derives upsert options.
func (s Settings) Novelty() NoveltyOptions {
	return NoveltyOptions{
		Threshold:      s.Threshold,
		RecentLimit:    s.RecentLimit,
		MergeIfSimilar: s.MergeIfSimilar,
	}
}

func (o ContextOptions) search(topk int) SearchOptions {
	return SearchOptions{TopN: o.TopN, TopK: topk, Alpha: o.Alpha, Beta: o.Beta}
}

func (o ContextOptions) scoped() ScopedOptions {
	return ScopedOptions{
		ConvID:     o.ConvID,
		TopN:       o.TopN,
		TopKLocal:  o.TopKLocal,
		TopKGlobal: o.TopKGlobal,
		WLocal:     o.WLocal,
		WGlobal:    o.WGlobal,
		Alpha:      o.Alpha,
		Beta:       o.Beta,
	}
}
