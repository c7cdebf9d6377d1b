package memory

import (
	"strings"
	"unicode"
)

// SplitTags tokenizes s on commas and whitespace, dropping empty tokens.
func SplitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// NormalizeTags splits every raw value on commas and whitespace, removes
// duplicates keeping the first occurrence, and appends TagGlobal for
// profile and fact memories that lack it.
func NormalizeTags(kind Kind, raw ...string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(raw)+1)
	for _, r := range raw {
		for _, tok := range SplitTags(r) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	if kind == KindProfile || kind == KindFact {
		if _, ok := seen[TagGlobal]; !ok {
			out = append(out, TagGlobal)
		}
	}
	return out
}

// JoinTags serializes tags for storage.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// ConvScopeFromTags returns the id of the first conv:<id> tag, or "".
func ConvScopeFromTags(tags []string) string {
	for _, t := range tags {
		if id, ok := strings.CutPrefix(t, ConvTagPrefix); ok && id != "" {
			return id
		}
	}
	return ""
}
