// Package mcp exposes video search and record retrieval as Model Context
// Protocol tools served over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nickcecere/mirag/internal/search"
	"github.com/nickcecere/mirag/internal/store"
)

// ServerName is the name reported to MCP clients.
const ServerName = "mirag"

// Tool names.
const (
	ToolSearch   = "mirag_search"
	ToolRetrieve = "mirag_retrieve"
)

const defaultToolLimit = 10

// Searcher answers natural language queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.SearchOptions) ([]search.Result, error)
}

// Retriever fetches or lists stored records.
type Retriever interface {
	Lookup(ctx context.Context, opts store.RetrieveOptions) (map[string]store.QueryResult, error)
}

var (
	_ Searcher  = (*search.Searcher)(nil)
	_ Retriever = (*store.VectorIndexStore)(nil)
)

// Server wraps the MCP server with the mirag tools.
type Server struct {
	mcpServer *server.MCPServer
	searcher  Searcher
	retriever Retriever
}

// NewServer registers the tools. searcher may be nil when no query embedder
// is configured; the search tool then reports an error.
func NewServer(searcher Searcher, retriever Retriever, version string) *Server {
	s := &Server{
		searcher:  searcher,
		retriever: retriever,
	}

	s.mcpServer = server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	searchTool := mcp.NewTool(ToolSearch,
		mcp.WithDescription("Semantic search over motivational interviewing session summaries. Returns the closest videos with their summary and quality score."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for, in natural language"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return"),
			mcp.DefaultNumber(defaultToolLimit),
		),
		mcp.WithString("topic",
			mcp.Description("Only return videos with this topic"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum similarity between 0 and 1"),
			mcp.DefaultNumber(0),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearch)

	retrieveTool := mcp.NewTool(ToolRetrieve,
		mcp.WithDescription("Fetch stored video records by id, or list records when no ids are given."),
		mcp.WithArray("ids",
			mcp.Description("Record ids to fetch"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records to list when no ids are given"),
			mcp.DefaultNumber(defaultToolLimit),
		),
		mcp.WithString("index",
			mcp.Description("Index to read from (default: the configured index)"),
		),
	)
	s.mcpServer.AddTool(retrieveTool, s.handleRetrieve)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve answers requests read from in until it ends or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	log.Info("MCP server starting")

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}))

	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("MCP server shutting down")
	return nil
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	if s.searcher == nil {
		return mcp.NewToolResultError("search is unavailable: no embedding provider is configured"), nil
	}

	opts := search.DefaultSearchOptions()
	opts.TopK = positiveInt(req, "limit", defaultToolLimit)
	opts.Topic = req.GetString("topic", "")
	opts.MinScore = req.GetFloat("min_score", 0)

	log.Debug("Calling tool", "name", ToolSearch, "query", query, "limit", opts.TopK)

	results, err := s.searcher.Search(ctx, query, opts)
	if err != nil {
		log.Error("Search failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No results found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(results))

	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.VideoID
		}
		fmt.Fprintf(&sb, "[%d] %s - %.1f%% match\n", i+1, title, r.Score*100)
		if r.URL != "" {
			fmt.Fprintf(&sb, "    url: %s\n", r.URL)
		}
		if r.Topic != "" || r.Quality != "" {
			fmt.Fprintf(&sb, "    topic: %s  quality: %s\n", r.Topic, r.Quality)
		}
		if r.EvalScore != "" {
			fmt.Fprintf(&sb, "    eval score: %s\n", r.EvalScore)
		}
		if r.Summary != "" {
			summary := r.Summary
			if len(summary) > 500 {
				summary = summary[:500] + "..."
			}
			sb.WriteString(summary)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// retrieved is the tool view of a record: values are summarized by size.
type retrieved struct {
	ID        string         `json:"id"`
	Dimension int            `json:"dimension"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) handleRetrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := store.RetrieveOptions{
		IndexName: req.GetString("index", ""),
		Limit:     positiveInt(req, "limit", defaultToolLimit),
	}
	for _, id := range req.GetStringSlice("ids", nil) {
		if id != "" {
			opts.IDs = append(opts.IDs, id)
		}
	}

	found, err := s.retriever.Lookup(ctx, opts)
	if err != nil {
		log.Error("Retrieve failed", "index", opts.IndexName, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("retrieve failed: %v", err)), nil
	}
	if len(found) == 0 {
		return mcp.NewToolResultText("No records found."), nil
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]retrieved, len(ids))
	for i, id := range ids {
		r := found[id]
		out[i] = retrieved{ID: id, Dimension: len(r.Values), Metadata: r.Metadata}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode records: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// positiveInt reads a count sent as a number or numeric string, falling back
// to def when it is missing or not positive.
func positiveInt(req mcp.CallToolRequest, name string, def int) int {
	if n := req.GetInt(name, def); n > 0 {
		return n
	}
	return def
}
