package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/embeddings"
	"github.com/nickcecere/mirag/internal/search"
	"github.com/nickcecere/mirag/internal/ui"
)

var (
	searchLimit     int
	searchMinScore  float64
	searchTopic     string
	searchNoSummary bool
	searchJSON      bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored videos using semantic similarity",
	Long: `Search session summaries with a natural language query.

The query is embedded with the configured embedding provider and compared
against the stored video embeddings.

Examples:
  # Basic search
  mirag search "rolling with resistance"

  # Only sessions on one topic
  mirag search "open questions" --topic ambivalence

  # Filter by minimum similarity score
  mirag search "change talk" --min-score 0.5 -m 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCmd,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 10, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0.0, "minimum similarity score (0-1)")
	searchCmd.Flags().StringVar(&searchTopic, "topic", "", "only show videos with this topic")
	searchCmd.Flags().BoolVar(&searchNoSummary, "no-summary", false, "hide summaries in results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	log.Debug("Starting search", "query", query, "limit", searchLimit, "topic", searchTopic)

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	emb, err := embeddings.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedding service: %w", err)
	}

	opts := search.SearchOptions{
		TopK:           searchLimit,
		MinScore:       searchMinScore,
		Topic:          searchTopic,
		IncludeSummary: !searchNoSummary,
	}

	results, err := search.New(st, emb).Search(ctx, query, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if searchJSON {
		if results == nil {
			results = []search.Result{}
		}
		return printJSON(results, false)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	displayResults(results)
	return nil
}

// displayResults formats and displays search results.
func displayResults(results []search.Result) {
	fmt.Printf("Found %d results:\n\n", len(results))

	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.VideoID
		}

		fmt.Printf("%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.VideoTitle.Render(title),
			ui.FormatScore(r.Score),
		)
		if r.URL != "" {
			fmt.Printf("    %s\n", ui.VideoURL.Render(r.URL))
		}

		var details []string
		if r.Topic != "" {
			details = append(details, "topic: "+r.Topic)
		}
		if r.Quality != "" {
			details = append(details, "quality: "+r.Quality)
		}
		if r.EvalScore != "" {
			details = append(details, "eval score: "+r.EvalScore)
		}
		if len(details) > 0 {
			fmt.Printf("    %s\n", ui.Dim.Render(strings.Join(details, "  ")))
		}

		if r.Summary != "" {
			fmt.Println()
			fmt.Println(ui.ResultContent.Render(wrapText(r.Summary, 96)))
		}

		fmt.Println()
	}
}

// wrapText breaks text into lines of at most width runes at word boundaries.
func wrapText(text string, width int) string {
	var sb strings.Builder
	for p, para := range strings.Split(text, "\n") {
		if p > 0 {
			sb.WriteString("\n")
		}
		lineLen := 0
		for _, word := range strings.Fields(para) {
			n := len([]rune(word))
			if lineLen > 0 && lineLen+1+n > width {
				sb.WriteString("\n")
				lineLen = 0
			} else if lineLen > 0 {
				sb.WriteString(" ")
				lineLen++
			}
			sb.WriteString(word)
			lineLen += n
		}
	}
	return sb.String()
}
