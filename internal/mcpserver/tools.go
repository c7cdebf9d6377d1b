package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flemzord/hafiza/internal/memory"
)

func (s *Server) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := s.mem.Settings().Context(strings.TrimSpace(req.GetString("conv_id", "")))
	if k := req.GetInt("topk", 0); k > 0 {
		opts.TopK = k
	}

	lines, err := s.mem.RetrieveContext(ctx, s.userID, query, opts)
	if err != nil {
		return s.failed("recall", err), nil
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("(none)"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleRemember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := memory.ParseKind(req.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags := memory.SplitTags(req.GetString("tags", ""))
	if conv := strings.TrimSpace(req.GetString("conv_id", "")); conv != "" {
		tags = append(tags, memory.ConvTag(conv))
	}

	opts := s.mem.Settings().Novelty()
	id, outcome, err := s.mem.Remember(ctx, memory.NewMemory{
		UserID: s.userID,
		Kind:   kind,
		Text:   text,
		Source: sourceMCP,
		Tags:   tags,
	}, &opts)
	if err != nil {
		return s.failed("remember", err), nil
	}
	s.logger.Debug("mcp: remembered", "id", id, "outcome", outcome)
	return mcp.NewToolResultText(fmt.Sprintf("Memory #%d %s.", id, outcome)), nil
}

func (s *Server) handleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.ownedID(ctx, req)
	if res != nil {
		return res, nil
	}
	if err := s.mem.Delete(ctx, id); err != nil {
		return s.failed("forget", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory #%d forgotten.", id)), nil
}

func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, res := s.ownedID(ctx, req)
	if res != nil {
		return res, nil
	}
	if err := s.mem.Rewrite(ctx, id, text); err != nil {
		return s.failed("update", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory #%d updated.", id)), nil
}

// ownedID reads the id argument and checks that it names one of the
// user's memories. A non-nil result is the error to return to the client.
func (s *Server) ownedID(ctx context.Context, req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	raw, err := req.RequireFloat("id")
	if err != nil {
		return 0, mcp.NewToolResultError(err.Error())
	}
	id := int64(raw)
	if id <= 0 || float64(id) != raw {
		return 0, mcp.NewToolResultError(fmt.Sprintf("invalid memory id %v", raw))
	}
	m, ok, err := s.mem.Get(ctx, id)
	if err != nil {
		return 0, s.failed("get", err)
	}
	if !ok || m.UserID != s.userID {
		return 0, mcp.NewToolResultError(fmt.Sprintf("Memory #%d not found.", id))
	}
	return id, nil
}

// failed turns err into a tool error. Validation problems are shown as is;
// anything else is logged and reported generically.
func (s *Server) failed(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, memory.ErrEmptyText),
		errors.Is(err, memory.ErrInvalidKind),
		errors.Is(err, memory.ErrDimensionMismatch),
		errors.Is(err, memory.ErrEmbedderUnavailable):
		return mcp.NewToolResultError(err.Error())
	}
	s.logger.Error("mcp: tool failed", "tool", op, "error", err)
	return mcp.NewToolResultError(op + " failed")
}
