package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/store"
	"github.com/nickcecere/mirag/internal/ui"
)

var (
	retrieveIDs       []string
	retrieveLimit     int
	retrieveIndex     string
	retrieveDimension int
	retrieveValues    bool
	retrieveNoColor   bool
)

// retrieveCmd fetches records by id or lists a namespace.
var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Fetch stored records by id or list them",
	Long: `Print stored records as JSON.

With --id the records are fetched exactly. Without ids up to --limit records of
the namespace are listed. --index reads another index; its namespace is derived
from its name.

Examples:
  mirag retrieve --id 5d41402abc4b2a76b9719d911017c592
  mirag retrieve --limit 20
  mirag retrieve --index other-index --dimension 1536`,
	Args: cobra.NoArgs,
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringArrayVar(&retrieveIDs, "id", nil, "record id to fetch (repeatable)")
	retrieveCmd.Flags().IntVarP(&retrieveLimit, "limit", "m", 10, "maximum number of records to list")
	retrieveCmd.Flags().StringVar(&retrieveIndex, "index", "", "index to read (default: configured index)")
	retrieveCmd.Flags().IntVar(&retrieveDimension, "dimension", 0, "vector size of --index when it differs from the configured index")
	retrieveCmd.Flags().BoolVar(&retrieveValues, "values", false, "include vector values in the output")
	retrieveCmd.Flags().BoolVar(&retrieveNoColor, "no-color", false, "disable JSON highlighting")
}

// retrievedRecord is the printed form of a record.
type retrievedRecord struct {
	ID        string         `json:"id"`
	Dimension int            `json:"dimension"`
	Values    []float32      `json:"values,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	found, err := st.Lookup(ctx, store.RetrieveOptions{
		IndexName: retrieveIndex,
		Limit:     retrieveLimit,
		IDs:       retrieveIDs,
		Dimension: retrieveDimension,
	})
	if err != nil {
		return err
	}

	if len(found) == 0 {
		fmt.Println(ui.Dim.Render("No records found."))
		return nil
	}

	return printJSON(toRetrieved(found, retrieveValues), !retrieveNoColor)
}

// toRetrieved orders records by id for stable output.
func toRetrieved(found map[string]store.QueryResult, withValues bool) []retrievedRecord {
	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]retrievedRecord, len(ids))
	for i, id := range ids {
		r := found[id]
		out[i] = retrievedRecord{ID: id, Dimension: len(r.Values), Metadata: r.Metadata}
		if withValues {
			out[i].Values = r.Values
		}
	}
	return out
}
