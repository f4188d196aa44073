// Package mcp exposes the crawl backlog to MCP clients as operator tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"domain-crawl/internal/repository"
	"domain-crawl/internal/worker"
)

type Server struct {
	mcpServer *server.MCPServer
	pool      *worker.Pool
	store     repository.DomainStore
}

func NewServer(pool *worker.Pool, store repository.DomainStore) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Domain Crawl",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		pool:  pool,
		store: store,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"crawl_status",
			mcp.WithDescription("Return backlog counts per domain status"),
			mcp.WithString("source", mcp.Description("Optional producer tag to filter by")),
		),
		s.handleStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"process_batch",
			mcp.WithDescription("Process up to n pending domains through the full provider panel"),
			mcp.WithNumber("n", mcp.Required(), mcp.Description("Maximum number of domains to process")),
		),
		s.handleProcessBatch,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"enqueue_domain",
			mcp.WithDescription("Insert a new pending domain into the backlog"),
			mcp.WithString("domain", mcp.Required(), mcp.Description("The domain name to analyze")),
			mcp.WithString("source", mcp.Description("Producer tag for the new item")),
		),
		s.handleEnqueue,
	)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	source, _ := args["source"].(string)

	counts, err := s.store.StatusCounts(ctx, source)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query status: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(counts)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleProcessBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	n, ok := args["n"].(float64)
	if !ok || n < 1 {
		return mcp.NewToolResultError("Missing required parameter: n"), nil
	}

	processed, err := s.pool.ProcessBatch(ctx, int(n))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Batch aborted after %d items: %v", processed, err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Processed %d domains", processed)), nil
}

func (s *Server) handleEnqueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	domain, ok := args["domain"].(string)
	if !ok || domain == "" {
		return mcp.NewToolResultError("Missing required parameter: domain"), nil
	}
	source, _ := args["source"].(string)

	d, err := s.store.InsertDomain(ctx, domain, source)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to enqueue: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(d)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
