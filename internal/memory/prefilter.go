package memory

import (
	"context"
	"fmt"
)

// Prefilter narrows a user's memories to at most 2*limit candidates: the
// rows matching every query token as a prefix, followed by the newest rows.
// Duplicates are removed by id, text matches first. A query without usable
// tokens yields the recency pool alone.
func Prefilter(ctx context.Context, store Store, userID, query string, scope Scope, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return []Candidate{}, nil
	}

	var text []Candidate
	if q := FTSQuery(query); q != "" {
		var err error
		text, err = store.TextCandidates(ctx, userID, q, scope, limit)
		if err != nil {
			return nil, fmt.Errorf("memory: text candidates: %w", err)
		}
	}

	recent, err := store.RecentCandidates(ctx, userID, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recent candidates: %w", err)
	}

	seen := make(map[int64]struct{}, len(text)+len(recent))
	out := make([]Candidate, 0, len(text)+len(recent))
	for _, pool := range [][]Candidate{text, recent} {
		for _, c := range pool {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}
