package memory

import (
	"strings"
	"unicode"
)

// Tokens splits text on whitespace, strips every rune that is not a letter,
// digit or underscore, and lower-cases what remains. Empty tokens are dropped.
func Tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				return r
			}
			return -1
		}, f)
		if tok == "" {
			continue
		}
		out = append(out, strings.ToLower(tok))
	}
	return out
}

// FTSQuery turns free text into an FTS5 prefix query requiring every token,
// for example "kahve süt" becomes "kahve* AND süt*". It returns "" when the
// text has no usable token.
func FTSQuery(text string) string {
	toks := Tokens(text)
	if len(toks) == 0 {
		return ""
	}
	for i, t := range toks {
		toks[i] = t + "*"
	}
	return strings.Join(toks, " AND ")
}

// ParseFTSQuery returns the prefixes of a query built by FTSQuery.
func ParseFTSQuery(q string) []string {
	if q == "" {
		return nil
	}
	parts := strings.Split(q, " AND ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSuffix(strings.TrimSpace(p), "*"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MatchesPrefixes reports whether every prefix starts some token of text.
func MatchesPrefixes(text string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return false
	}
	toks := Tokens(text)
	for _, p := range prefixes {
		found := false
		for _, t := range toks {
			if strings.HasPrefix(t, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
