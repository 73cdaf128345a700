package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/ui"
)

// storeCmd upserts records from a JSON file.
var storeCmd = &cobra.Command{
	Use:   "store <file.json>",
	Short: "Store records from a JSON file",
	Long: `Validate and upsert a JSON array of records into the configured index.

Records are either nested, carrying pre-computed values:
  {"id": "a1", "values": [0.1, 0.2], "metadata": {"chunk_text": "..."}}

or flat, embedded by the service from their text field:
  {"id": "a1", "chunk_text": "...", "topic": "ambivalence"}

Invalid records are reported and skipped. Use "-" to read from stdin.

Examples:
  mirag store records.json
  cat records.json | mirag store -`,
	Args: cobra.ExactArgs(1),
	RunE: runStore,
}

func runStore(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.StoreJSON(ctx, data)
	if err != nil {
		return err
	}

	for _, r := range res.Rejected {
		fmt.Printf("%s record %d (%s): %v\n", ui.Warning.Render("skipped"), r.Index, r.ID, r.Reason)
	}

	if !res.Stored {
		fmt.Println(ui.Warning.Render("Nothing stored."))
		return nil
	}

	log.Debug("Store finished", "shape", res.Shape, "upserted", res.Upserted)
	fmt.Printf("%s %d %s records into %s\n",
		ui.Success.Render("Stored"),
		res.Upserted,
		res.Shape,
		ui.Bold.Render(st.Handle().Name),
	)
	return nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
