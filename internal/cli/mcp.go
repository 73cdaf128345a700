package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/embeddings"
	"github.com/nickcecere/mirag/internal/mcp"
	"github.com/nickcecere/mirag/internal/search"
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server so AI agents can use the video
store for retrieval-augmented generation.

The server communicates over stdin/stdout and provides tools for:
  - mirag_search: Semantic search over session summaries
  - mirag_retrieve: Fetch or list stored records

This command is typically invoked by an agent and not run directly by users.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// MCP server uses stdin/stdout for communication, so redirect logs to stderr
	log.SetOutput(os.Stderr)
	if !debug {
		log.SetLevel(log.InfoLevel)
	}

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Retrieval works without an embedder; search needs one for query text.
	var searcher mcp.Searcher
	if emb, err := embeddings.NewService(cfg); err != nil {
		log.Warn("Search tool disabled", "error", err)
	} else {
		searcher = search.New(st, emb)
	}

	return mcp.NewServer(searcher, st, version).Serve(ctx, os.Stdin, os.Stdout)
}
