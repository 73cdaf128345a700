package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/ui"
)

// initCmd binds to the configured index, creating it when missing.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configured vector index if it does not exist",
	Long: `Bind to the configured vector index. When the service has no index with
that name, one is created with the configured cloud, region and embedding model
and mirag waits until it is ready.

Examples:
  # Create the default index
  mirag init

  # Create a local SQLite index
  MIRAG_VECTOR_BACKEND=sqlite mirag init`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	h := st.Handle()
	fmt.Printf("%s %s\n", ui.Success.Render("Index ready:"), ui.Bold.Render(h.Name))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Namespace:"), h.Namespace)
	fmt.Printf("  %s %d\n", ui.Dim.Render("Dimension:"), st.Dimension())
	return nil
}
