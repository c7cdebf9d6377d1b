// Package mcpserver exposes long-term memory as Model Context Protocol
// tools so external assistants can remember, recall, forget and update
// facts about the user.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/hafiza/internal/memory"
)

// Memories is the engine surface the tools need.
type Memories interface {
	Settings() memory.Settings
	Get(ctx context.Context, id int64) (memory.Memory, bool, error)
	Delete(ctx context.Context, id int64) error
	Rewrite(ctx context.Context, id int64, text string) error
	Remember(ctx context.Context, n memory.NewMemory, opts *memory.NoveltyOptions) (int64, memory.UpsertOutcome, error)
	RetrieveContext(ctx context.Context, userID, query string, opts memory.ContextOptions) ([]string, error)
}

var _ Memories = (*memory.Engine)(nil)

// Config controls the MCP server.
type Config struct {
	// UserID owns every memory the tools read or write.
	UserID  string
	Name    string
	Version string

	// ReadOnly registers recall only.
	ReadOnly bool
}

// Tool names.
const (
	ToolRemember = "remember"
	ToolRecall   = "recall"
	ToolForget   = "forget"
	ToolUpdate   = "update"
)

// sourceMCP marks memories written through the tools.
const sourceMCP = "mcp"

// Server binds memory tools to an MCP server.
type Server struct {
	mem    Memories
	userID string
	logger *slog.Logger
	mcp    *server.MCPServer
	tools  []string
}

// New builds the server and registers its tools.
func New(mem Memories, cfg Config, logger *slog.Logger) (*Server, error) {
	if mem == nil {
		return nil, errors.New("mcpserver: nil memories")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, memory.ErrEmptyUser
	}
	if cfg.Name == "" {
		cfg.Name = "hafiza"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mem:    mem,
		userID: cfg.UserID,
		logger: logger.With("component", "mcp"),
		mcp:    server.NewMCPServer(cfg.Name, cfg.Version, server.WithToolCapabilities(false)),
	}

	s.add(mcp.NewTool(ToolRecall,
		mcp.WithDescription("Returns the stored memories most relevant to a query, one per line."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for.")),
		mcp.WithString("conv_id", mcp.Description("Conversation to favour. Empty searches every memory.")),
		mcp.WithNumber("topk", mcp.Description("Maximum number of lines.")),
	), s.handleRecall)

	if cfg.ReadOnly {
		return s, nil
	}

	s.add(mcp.NewTool(ToolRemember,
		mcp.WithDescription("Stores a memory unless a near-identical one already exists."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The fact to remember.")),
		mcp.WithString("kind", mcp.Description("preference, profile, fact or note."), mcp.Enum("preference", "profile", "fact", "note")),
		mcp.WithString("conv_id", mcp.Description("Conversation the memory belongs to.")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags.")),
	), s.handleRemember)

	s.add(mcp.NewTool(ToolForget,
		mcp.WithDescription("Deletes a memory by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id.")),
	), s.handleForget)

	s.add(mcp.NewTool(ToolUpdate,
		mcp.WithDescription("Replaces the text of a memory."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id.")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New text.")),
	), s.handleUpdate)

	return s, nil
}

func (s *Server) add(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, h)
	s.tools = append(s.tools, tool.Name)
}

// Tools returns the registered tool names in registration order.
func (s *Server) Tools() []string { return s.tools }

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio answers requests read from in until ctx is cancelled or in
// is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp: serving on stdio", "tools", s.tools)
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}
