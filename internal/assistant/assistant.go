// Package assistant runs one conversational turn: policy commands, the
// transcript, long-term memory retrieval, the model call and the optional
// harvesting of new memories from the exchange.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/hafiza/internal/chat"
	ctxengine "github.com/flemzord/hafiza/internal/context"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/provider"
)

// ServiceName is the core.AppContext service name of the Assistant.
const ServiceName = "assistant"

// SourceExtracted marks memories harvested from a conversation.
const SourceExtracted = "extractor"

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("assistant: empty message")

// Memories is the slice of the memory engine a turn needs. *memory.Engine
// implements it.
type Memories interface {
	Settings() memory.Settings
	Get(ctx context.Context, id int64) (memory.Memory, bool, error)
	Delete(ctx context.Context, id int64) error
	Rewrite(ctx context.Context, id int64, text string) error
	Remember(ctx context.Context, n memory.NewMemory, opts *memory.NoveltyOptions) (int64, memory.UpsertOutcome, error)
	RetrieveContext(ctx context.Context, userID, query string, opts memory.ContextOptions) ([]string, error)
}

var _ Memories = (*memory.Engine)(nil)

// CompletionObserver records model calls. internal/metrics implements it.
type CompletionObserver interface {
	ObserveCompletion(elapsed time.Duration, tokens int, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveCompletion(time.Duration, int, error) {}

// Config tunes the assistant.
type Config struct {
	// UserID is used when a session is opened without one.
	UserID string `yaml:"user_id"`

	STM    ctxengine.BufferConfig    `yaml:"stm"`
	Prompt ctxengine.AssemblerConfig `yaml:"prompt"`

	// AutoExtract harvests memories from every completed exchange.
	AutoExtract bool `yaml:"auto_extract"`

	// HistoryLimit bounds the transcript messages loaded into a new
	// session. 0 loads everything.
	HistoryLimit int `yaml:"history_limit"`

	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// DefaultUserID is the user of single-user deployments.
const DefaultUserID = "demo-user"

func (c Config) withDefaults() Config {
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	return c
}

// Deps are the collaborators of an Assistant. Extractor, Observer and
// Logger are optional.
type Deps struct {
	Memories  Memories
	Chats     chat.Store
	Provider  provider.Provider
	Extractor memory.CandidateExtractor
	Observer  CompletionObserver
	Logger    *slog.Logger
}

// Assistant answers user messages with memory-augmented completions.
type Assistant struct {
	cfg       Config
	memories  Memories
	chats     chat.Store
	provider  provider.Provider
	extractor memory.CandidateExtractor
	observer  CompletionObserver
	assembler *ctxengine.ContextAssembler
	estimator ctxengine.TokenEstimator
	logger    *slog.Logger
	lanes     *laneLock
}

// New creates an Assistant.
func New(deps Deps, cfg Config) (*Assistant, error) {
	if deps.Memories == nil {
		return nil, errors.New("assistant: memories are required")
	}
	if deps.Chats == nil {
		return nil, errors.New("assistant: chat store is required")
	}
	if deps.Provider == nil {
		return nil, provider.ErrNoProvider
	}
	if deps.Extractor == nil {
		deps.Extractor = memory.NopExtractor{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	estimator := ctxengine.NewCharEstimator(4)
	return &Assistant{
		cfg:       cfg.withDefaults(),
		memories:  deps.Memories,
		chats:     deps.Chats,
		provider:  deps.Provider,
		extractor: deps.Extractor,
		observer:  deps.Observer,
		assembler: ctxengine.NewContextAssembler(estimator, cfg.Prompt),
		estimator: estimator,
		logger:    deps.Logger.With("component", "assistant"),
		lanes:     newLaneLock(),
	}, nil
}

// UserID returns the default user.
func (a *Assistant) UserID() string { return a.cfg.UserID }

// Session is the state of one open conversation: its id, owner and
// short-term buffer. Callers keep it between turns.
type Session struct {
	ConvID int64
	UserID string
	Title  string
	Buffer *ctxengine.Buffer
}

// scope returns the conversation id in the form memory tags use.
func (s *Session) scope() string {
	return strconv.FormatInt(s.ConvID, 10)
}

// OpenSession resumes conversation convID of userID, loading its recent
// transcript into a fresh buffer. A zero convID picks the most recently
// updated conversation, creating one when the user has none. An empty
// userID means the configured default.
func (a *Assistant) OpenSession(ctx context.Context, userID string, convID int64) (*Session, error) {
	if userID == "" {
		userID = a.cfg.UserID
	}

	var conv chat.Conversation
	if convID == 0 {
		convs, err := a.chats.ListConversations(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("assistant: list conversations: %w", err)
		}
		if len(convs) > 0 {
			conv = convs[0]
		} else if conv, err = a.chats.CreateConversation(ctx, userID, chat.DefaultTitle); err != nil {
			return nil, fmt.Errorf("assistant: create conversation: %w", err)
		}
	} else {
		c, ok, err := a.chats.GetConversation(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("assistant: get conversation %d: %w", convID, err)
		}
		if !ok || c.UserID != userID {
			return nil, fmt.Errorf("assistant: conversation %d: %w", convID, chat.ErrConversationNotFound)
		}
		conv = c
	}

	msgs, err := a.chats.Messages(ctx, conv.ID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("assistant: load transcript %d: %w", conv.ID, err)
	}
	buf := ctxengine.NewBuffer(a.cfg.STM, a.estimator)
	buf.Load(chat.LLMMessages(msgs))

	return &Session{ConvID: conv.ID, UserID: userID, Title: conv.Title, Buffer: buf}, nil
}

// NewSession starts a new conversation titled title.
func (a *Assistant) NewSession(ctx context.Context, userID, title string) (*Session, error) {
	if userID == "" {
		userID = a.cfg.UserID
	}
	conv, err := a.chats.CreateConversation(ctx, userID, chat.Title(title))
	if err != nil {
		return nil, fmt.Errorf("assistant: create conversation: %w", err)
	}
	return &Session{
		ConvID: conv.ID,
		UserID: userID,
		Title:  conv.Title,
		Buffer: ctxengine.NewBuffer(a.cfg.STM, a.estimator),
	}, nil
}

// Command names a policy command handled without the model.
type Command string

// Command values.
const (
	CommandNone   Command = ""
	CommandForget Command = "forget"
	CommandUpdate Command = "update"
)

// Saved is a memory written by Harvest.
type Saved struct {
	ID      int64                `json:"id"`
	Kind    memory.Kind          `json:"kind"`
	Text    string               `json:"text"`
	Outcome memory.UpsertOutcome `json:"outcome"`
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Reply   string  `json:"reply"`
	Command Command `json:"command,omitempty"`

	// MemoryID is the target of a policy command.
	MemoryID int64 `json:"memory_id,omitempty"`

	MemoryLines []string            `json:"memory_lines,omitempty"`
	Saved       []Saved             `json:"saved,omitempty"`
	SuggestSave bool                `json:"suggest_save"`
	Usage       provider.TokenUsage `json:"usage"`
}

// Turn answers text within s. Turns of the same conversation run one at a
// time.
//
// "#forget <id>" and "#update <id>: <text>" act on the user's memories
// and return a confirmation without calling the model or touching the
// transcript. Anything else is persisted, answered with the retrieved
// memory lines in the system prompt, and the reply persisted. A failed
// retrieval degrades to an empty memory block; a failed completion is
// returned after the user message has been stored.
func (a *Assistant) Turn(ctx context.Context, s *Session, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	a.lanes.acquire(s.ConvID)
	defer a.lanes.release(s.ConvID)

	if res, handled, err := a.command(ctx, s, text); handled {
		return res, err
	}

	if _, err := a.chats.AddMessage(ctx, s.ConvID, provider.MessageRoleUser, text); err != nil {
		return TurnResult{}, fmt.Errorf("assistant: store user message: %w", err)
	}
	s.Buffer.Push(provider.MessageRoleUser, text)

	result := TurnResult{SuggestSave: memory.ShouldSuggestSave(text)}

	lines, err := a.memories.RetrieveContext(ctx, s.UserID, text, a.memories.Settings().Context(s.scope()))
	if err != nil {
		a.logger.Warn("memory retrieval failed, continuing without memories",
			"conv_id", s.ConvID, "error", err)
		lines = nil
	}
	result.MemoryLines = lines

	assembled := a.assembler.Assemble(ctxengine.AssemblyRequest{
		MemoryLines: lines,
		History:     s.Buffer.Messages(),
	})
	req := assembled.Request()
	req.MaxTokens = a.cfg.MaxTokens
	req.Temperature = a.cfg.Temperature

	start := time.Now()
	resp, err := a.provider.Complete(ctx, req)
	a.observer.ObserveCompletion(time.Since(start), resp.Usage.TotalTokens, err)
	if err != nil {
		return result, fmt.Errorf("assistant: complete: %w", err)
	}
	result.Reply = resp.Content
	result.Usage = resp.Usage

	if _, err := a.chats.AddMessage(ctx, s.ConvID, provider.MessageRoleAssistant, resp.Content); err != nil {
		return result, fmt.Errorf("assistant: store reply: %w", err)
	}
	s.Buffer.Push(provider.MessageRoleAssistant, resp.Content)

	a.logger.Debug("turn completed",
		"conv_id", s.ConvID,
		"memory_lines", len(lines),
		"tokens", resp.Usage.TotalTokens,
	)

	if a.cfg.AutoExtract {
		saved, err := a.Harvest(ctx, s.UserID, memory.Exchange{
			ConvID:           s.scope(),
			UserMessage:      provider.LLMMessage{Role: provider.MessageRoleUser, Content: text},
			AssistantMessage: provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: resp.Content},
			Timestamp:        time.Now(),
		})
		if err != nil {
			a.logger.Warn("memory harvest failed", "conv_id", s.ConvID, "error", err)
		}
		result.Saved = saved
	}
	return result, nil
}

// Harvest extracts memory candidates from ex and writes each through the
// novelty gate, tagged with the exchange's conversation. Candidates that
// fail are skipped and their errors joined.
func (a *Assistant) Harvest(ctx context.Context, userID string, ex memory.Exchange) ([]Saved, error) {
	candidates, err := a.extractor.Extract(ctx, ex)
	if err != nil {
		return nil, fmt.Errorf("assistant: extract: %w", err)
	}

	var tags []string
	if ex.ConvID != "" {
		tags = []string{memory.ConvTag(ex.ConvID)}
	}
	opts := a.memories.Settings().Novelty()

	var (
		saved []Saved
		errs  []error
	)
	for _, c := range candidates {
		id, outcome, err := a.memories.Remember(ctx, memory.NewMemory{
			UserID: userID,
			Kind:   c.Kind,
			Text:   c.Text,
			Source: SourceExtracted,
			Tags:   tags,
		}, &opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("remember %q: %w", c.Text, err))
			continue
		}
		saved = append(saved, Saved{ID: id, Kind: c.Kind, Text: c.Text, Outcome: outcome})
	}
	return saved, errors.Join(errs...)
}

// command handles policy commands. handled is false for ordinary text.
func (a *Assistant) command(ctx context.Context, s *Session, text string) (res TurnResult, handled bool, err error) {
	if id, ok := memory.ParseForget(text); ok {
		res = TurnResult{Command: CommandForget, MemoryID: id}
		owned, err := a.owns(ctx, s.UserID, id)
		if err != nil {
			return res, true, err
		}
		if !owned {
			res.Reply = notFoundReply(id)
			return res, true, nil
		}
		if err := a.memories.Delete(ctx, id); err != nil {
			return res, true, fmt.Errorf("assistant: forget %d: %w", id, err)
		}
		a.logger.Info("memory forgotten", "id", id, "user_id", s.UserID)
		res.Reply = fmt.Sprintf("Memory #%d forgotten.", id)
		return res, true, nil
	}

	if id, newText, ok := memory.ParseUpdate(text); ok {
		res = TurnResult{Command: CommandUpdate, MemoryID: id}
		owned, err := a.owns(ctx, s.UserID, id)
		if err != nil {
			return res, true, err
		}
		if !owned {
			res.Reply = notFoundReply(id)
			return res, true, nil
		}
		if err := a.memories.Rewrite(ctx, id, newText); err != nil {
			return res, true, fmt.Errorf("assistant: update %d: %w", id, err)
		}
		a.logger.Info("memory updated", "id", id, "user_id", s.UserID)
		res.Reply = fmt.Sprintf("Memory #%d updated.", id)
		return res, true, nil
	}

	return TurnResult{}, false, nil
}

// owns reports whether memory id exists and belongs to userID.
func (a *Assistant) owns(ctx context.Context, userID string, id int64) (bool, error) {
	m, ok, err := a.memories.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("assistant: get memory %d: %w", id, err)
	}
	return ok && m.UserID == userID, nil
}

func notFoundReply(id int64) string {
	return fmt.Sprintf("Memory #%d not found.", id)
}
