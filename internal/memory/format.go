package memory

import (
	"fmt"
	"strings"
)

// DedupKey folds text for duplicate detection: whitespace runs collapse to
// one space, the ends are trimmed and letters are lower-cased.
func DedupKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// DedupHits drops every hit whose DedupKey was already seen. The first
// occurrence wins and order is preserved.
func DedupHits(hits []Hit) []Hit {
	return appendNovel(make([]Hit, 0, len(hits)), hits)
}

// appendNovel appends the hits of extra whose id and text are new to dst.
func appendNovel(dst, extra []Hit) []Hit {
	texts := make(map[string]struct{}, len(dst)+len(extra))
	ids := make(map[int64]struct{}, len(dst)+len(extra))
	for _, h := range dst {
		texts[DedupKey(h.Text)] = struct{}{}
		ids[h.ID] = struct{}{}
	}
	for _, h := range extra {
		key := DedupKey(h.Text)
		if _, dup := texts[key]; dup {
			continue
		}
		if _, dup := ids[h.ID]; dup {
			continue
		}
		texts[key] = struct{}{}
		ids[h.ID] = struct{}{}
		dst = append(dst, h)
	}
	return dst
}

// FormatLine renders a hit as "- (<scope>/<kind>, <created_at>) <text>".
func FormatLine(h Hit) string {
	scope := h.Scope
	if scope == "" {
		scope = ScopeGlobal
	}
	return fmt.Sprintf("- (%s/%s, %s) %s", scope, h.Kind, h.CreatedAt.UTC().Format(TimeLayout), h.Text)
}

// FormatLines renders every hit with FormatLine.
func FormatLines(hits []Hit) []string {
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = FormatLine(h)
	}
	return lines
}
