package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/pkg/logger"
)

const (
	// ServerName is the MCP server name
	ServerName = "refindex-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// IndexSource yields the index to query. rebuild.Runner implements it; the
// returned index may change after a rebuild.
type IndexSource interface {
	Index() *indexer.Index
}

// Server exposes read-only queries over a backward reference index
type Server struct {
	mcp    *server.MCPServer
	source IndexSource
	log    *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(source IndexSource) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		source: source,
		log:    logger.WithComponent("mcp"),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("serving on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(listKeysTool(), s.handleListKeys)
	s.mcp.AddTool(getPostingsTool(), s.handleGetPostings)
}
