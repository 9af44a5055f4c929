package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mike-a-ellis/issue-search/internal/service"
)

// Version is reported to MCP clients.
const Version = "v0.1.0"

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	svc    *service.Service
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(svc *service.Service) *Server {
	impl := &mcp.Implementation{
		Name:    "issue-search",
		Version: Version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_issues",
		Description: "Search indexed GitHub issues semantically. Returns the best matching issues with their labels and relevance score.",
	}, makeSearchHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "suggest_labels",
		Description: "Suggest labels for a new issue from the labels of the most similar indexed issues.",
	}, makeSuggestHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_issue",
		Description: "Retrieve a single indexed GitHub issue by id.",
	}, makeGetIssueHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Get the current status of the issue index including the number of indexed issues and the models in use.",
	}, makeStatusHandler(svc))

	return &Server{
		server: server,
		svc:    svc,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
