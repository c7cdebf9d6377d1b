package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/flemzord/hafiza/internal/provider"
)

// Exchange is one user-assistant round of a conversation.
type Exchange struct {
	ConvID           string
	UserMessage      provider.LLMMessage
	AssistantMessage provider.LLMMessage
	Timestamp        time.Time
}

// Extraction is a memory candidate found in an exchange.
type Extraction struct {
	Kind Kind
	Text string
}

// CandidateExtractor finds memory candidates in an exchange. Returning no
// candidates is not an error.
type CandidateExtractor interface {
	Extract(ctx context.Context, exchange Exchange) ([]Extraction, error)
}

// LLMExtractor asks a model to list memorable statements.
type LLMExtractor struct {
	provider provider.Provider
}

// NewLLMExtractor creates an extractor backed by p.
func NewLLMExtractor(p provider.Provider) *LLMExtractor {
	return &LLMExtractor{provider: p}
}

// Compile-time interface check.
var _ CandidateExtractor = (*LLMExtractor)(nil)

const extractionPrompt = `Analyze the following exchange and extract short, self-contained statements about the user worth remembering.
Return one per line as "<kind>: <statement>" where kind is one of preference, profile, fact, note.
Keep the user's language. If there is nothing worth remembering, return "NONE".

User: %s
Assistant: %s

Statements:`

// Extract implements CandidateExtractor.
func (e *LLMExtractor) Extract(ctx context.Context, exchange Exchange) ([]Extraction, error) {
	prompt := fmt.Sprintf(
		extractionPrompt,
		exchange.UserMessage.Content,
		exchange.AssistantMessage.Content,
	)

	resp, err := e.provider.Complete(ctx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: extraction failed: %w", err)
	}

	return parseExtractions(resp.Content), nil
}

// parseExtractions reads "<kind>: <text>" lines. Lines without a known kind
// become notes.
func parseExtractions(response string) []Extraction {
	response = strings.TrimSpace(response)
	if response == "" || strings.EqualFold(response, "NONE") {
		return nil
	}

	lines := splitLines(response)
	out := make([]Extraction, 0, len(lines))
	for _, line := range lines {
		line = trimBullet(line)
		if line == "" || strings.EqualFold(line, "NONE") {
			continue
		}

		kind := KindNote
		if prefix, rest, ok := strings.Cut(line, ":"); ok {
			if k := Kind(strings.ToLower(strings.TrimSpace(prefix))); k.Valid() {
				kind = k
				line = strings.TrimSpace(rest)
			}
		}
		if line == "" {
			continue
		}
		out = append(out, Extraction{Kind: kind, Text: line})
	}
	return out
}

// splitLines splits text by newlines, trimming whitespace and filtering blanks.
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// trimBullet removes leading bullet markers ("- ", "* ", "1. ", etc.).
func trimBullet(s string) string {
	if len(s) == 0 {
		return s
	}
	// "- " or "* "
	if len(s) >= 2 && (s[0] == '-' || s[0] == '*') && s[1] == ' ' {
		return s[2:]
	}
	// "1. " style numbered lists
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && s[i] == '.' && i+1 < len(s) && s[i+1] == ' ' {
		return s[i+2:]
	}
	return s
}

// cueRule maps a cue pattern to the kind of the sentence it appears in.
type cueRule struct {
	re   *regexp.Regexp
	kind Kind
}

// Rules are tried in order; the first match decides the kind.
var cueRules = []cueRule{
	{regexp.MustCompile(`(?i)(benim adım|adım\s|my name is|doğum|adres|telefon|e-?posta|e-?mail|\bmail\b|yaşıyorum|i live in|i was born)`), KindProfile},
	{regexp.MustCompile(`(?i)(seviyorum|severim|sevmem|sevmiyorum|tercih|\bi (?:really )?(?:like|love|prefer|hate)\b)`), KindPreference},
	{regexp.MustCompile(`(?i)(takım|tuttuğum|çalışıyorum|\bi work (?:at|for)\b|\bmy team\b)`), KindFact},
	{regexp.MustCompile(`(?i)(hatırla|unutma|\bremember\b)`), KindNote},
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// HeuristicExtractor picks sentences of the user message that contain a cue
// word. It needs no model.
type HeuristicExtractor struct{}

var _ CandidateExtractor = HeuristicExtractor{}

// Extract implements CandidateExtractor.
func (HeuristicExtractor) Extract(_ context.Context, exchange Exchange) ([]Extraction, error) {
	var out []Extraction
	for _, sentence := range sentenceSplit.Split(exchange.UserMessage.Content, -1) {
		sentence = strings.TrimSpace(sentence)
		if len([]rune(sentence)) < 3 {
			continue
		}
		for _, r := range cueRules {
			if r.re.MatchString(sentence) {
				out = append(out, Extraction{Kind: r.kind, Text: sentence})
				break
			}
		}
	}
	return out, nil
}

// ChainExtractor tries extractors in order and returns the first non-empty
// result. Failures are logged and the next extractor is tried.
type ChainExtractor struct {
	extractors []CandidateExtractor
	logger     *slog.Logger
}

var _ CandidateExtractor = (*ChainExtractor)(nil)

// NewChainExtractor builds a chain. A nil logger discards.
func NewChainExtractor(logger *slog.Logger, extractors ...CandidateExtractor) *ChainExtractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChainExtractor{extractors: extractors, logger: logger}
}

// Extract implements CandidateExtractor.
func (c *ChainExtractor) Extract(ctx context.Context, exchange Exchange) ([]Extraction, error) {
	for i, e := range c.extractors {
		out, err := e.Extract(ctx, exchange)
		if err != nil {
			c.logger.Warn("extractor failed, trying next", "index", i, "error", err)
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

// NopExtractor is a no-op extractor for when memory extraction is disabled.
type NopExtractor struct{}

// Compile-time interface check.
var _ CandidateExtractor = (*NopExtractor)(nil)

// Extract always returns nil (no candidates), implementing graceful degradation.
func (NopExtractor) Extract(_ context.Context, _ Exchange) ([]Extraction, error) {
	return nil, nil
}
