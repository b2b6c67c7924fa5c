// Package mcpserver exposes domain tools to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"clinicrew/internal/domain"
)

// Server wraps an MCP server whose tools delegate to domain tools.
type Server struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New registers tools on a fresh MCP server. Each tool keeps its name,
// description and JSON schema.
func New(name, version string, tools []domain.Tool, logger *slog.Logger) *Server {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range tools {
		s.AddTool(definition(t), handler(t, logger))
	}
	logger.Info("mcp tools registered", "count", len(tools))
	return &Server{mcp: s, logger: logger}
}

// ServeStdio speaks MCP on in/out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func definition(t domain.Tool) mcp.Tool {
	return mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.Schema().Parameters)
}

func handler(t domain.Tool, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		res, err := t.Execute(ctx, args)
		if err != nil {
			logger.Warn("mcp tool failed", "tool", t.Name(), "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if res.IsError {
			return mcp.NewToolResultError(res.Content), nil
		}
		return mcp.NewToolResultText(res.Content), nil
	}
}
