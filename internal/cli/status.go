package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/embeddings"
	"github.com/nickcecere/mirag/internal/store"
	"github.com/nickcecere/mirag/internal/ui"
)

var statusIndex string

// statusCmd describes an index without creating it.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vector index status",
	Long: `Display information about the configured vector index:
- Backend, host and namespace
- Dimension, metric and embedding model
- Readiness

Unlike init, status never creates the index.

Examples:
  mirag status
  mirag status --index other-index`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusIndex, "index", "", "index to describe (default: configured index)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	name := statusIndex
	if name == "" {
		name = cfg.Vector.Index
	}
	log.Debug("Showing status", "index", name, "backend", cfg.Vector.Backend)

	ctx, cancel := signalContext()
	defer cancel()

	var emb store.Embedder
	if cfg.Vector.Backend == store.BackendSQLite {
		svc, err := embeddings.NewService(cfg)
		if err != nil {
			return fmt.Errorf("failed to create embedding service: %w", err)
		}
		emb = svc
	}

	backend, err := store.NewBackend(cfg, emb)
	if err != nil {
		return err
	}
	if c, ok := backend.(interface{ Close() error }); ok {
		defer c.Close()
	}

	info, err := backend.DescribeIndex(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to describe index: %w", err)
	}

	fmt.Println(ui.Header.Render("Index Status"))
	fmt.Println()

	fmt.Printf("%s %s\n", ui.Highlight.Render("Index:"), ui.Bold.Render(name))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Backend:"), cfg.Vector.Backend)
	fmt.Printf("  %s %s\n", ui.Dim.Render("Namespace:"), store.NamespaceFor(name))

	if info == nil {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), ui.Warning.Render("missing (run 'mirag init')"))
		return nil
	}

	if info.Host != "" {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Host:"), info.Host)
	}
	fmt.Printf("  %s %d\n", ui.Dim.Render("Dimension:"), info.Dimension)
	if info.Metric != "" {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Metric:"), info.Metric)
	}
	if info.EmbedModel != "" {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Model:"), info.EmbedModel)
	}
	fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), healthStatus(info))

	return nil
}

// healthStatus returns a readiness indicator for an index.
func healthStatus(info *store.IndexInfo) string {
	if !info.Ready {
		return ui.Warning.Render("initializing")
	}
	if info.Dimension == 0 {
		return ui.Warning.Render("ready (dimension unknown)")
	}
	return ui.Success.Render("ready")
}
