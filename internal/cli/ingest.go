package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/evaluate"
	"github.com/nickcecere/mirag/internal/pipeline"
	"github.com/nickcecere/mirag/internal/summarize"
	"github.com/nickcecere/mirag/internal/ui"
)

var (
	ingestForce     bool
	ingestBatchSize int
	ingestRateLimit time.Duration
	ingestLimit     int
	ingestNoEval    bool
	ingestExportDir string
	ingestNoExport  bool
)

// ingestCmd runs the embedding pipeline over a video catalog.
var ingestCmd = &cobra.Command{
	Use:   "ingest <catalog.csv>",
	Short: "Summarize, score and store the videos of a catalog",
	Long: `Run every video of a catalog CSV through the ingestion pipeline.

The catalog needs a video_url column; video_title, topic, mi_quality and
transcript_id are stored as metadata when present. For each video a summary
and video embedding are produced by the video-understanding service, the
summary is scored by the evaluator and the record is stored in batches.

Videos whose id is already stored are skipped unless --force is given. A
report of every video is written to the export directory.

Examples:
  mirag ingest videos.csv
  mirag ingest videos.csv --batch-size 10 --rate-limit 5s
  mirag ingest videos.csv --limit 3 --no-eval`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "process videos that are already stored")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "records per upsert (default from config)")
	ingestCmd.Flags().DurationVar(&ingestRateLimit, "rate-limit", 0, "pause after each batch (default from config)")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "only process the first n videos")
	ingestCmd.Flags().BoolVar(&ingestNoEval, "no-eval", false, "skip summary scoring")
	ingestCmd.Flags().StringVar(&ingestExportDir, "export-dir", "", "directory for the results report (default from config)")
	ingestCmd.Flags().BoolVar(&ingestNoExport, "no-export", false, "do not write the results report")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	videos, err := pipeline.LoadCatalog(args[0])
	if err != nil {
		return err
	}
	if ingestLimit > 0 && ingestLimit < len(videos) {
		videos = videos[:ingestLimit]
	}

	ctx, cancel := signalContext()
	defer cancel()

	sum, err := summarize.NewClient(cfg.Summarizer)
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	var ev evaluate.Evaluator
	if !ingestNoEval {
		ev, err = evaluate.NewEvaluator(ctx, cfg)
		if err != nil {
			if !errors.Is(err, evaluate.ErrMissingAPIKey) {
				return fmt.Errorf("failed to create evaluator: %w", err)
			}
			log.Warn("No evaluator credentials, summaries will not be scored")
			// drop the typed nil so the pipeline sees no evaluator
			ev = nil
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := pipeline.Options{
		BatchSize: firstPositive(ingestBatchSize, cfg.Pipeline.BatchSize),
		RateLimit: ingestRateLimit,
		Force:     ingestForce,
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = cfg.Pipeline.RateLimit
	}

	fmt.Println(ui.Header.Render("Ingesting " + args[0]))
	fmt.Printf("Videos: %d\n", len(videos))
	fmt.Printf("Index:  %s\n", st.Handle().Name)
	if ev != nil {
		fmt.Printf("Scoring: %s\n", ev.Provider())
	}
	fmt.Println()

	lastUpdate := time.Now()
	opts.OnProgress = func(p pipeline.Progress) {
		if debug || time.Since(lastUpdate) < 100*time.Millisecond {
			return
		}
		lastUpdate = time.Now()

		fmt.Printf("\r\033[K")
		if p.TotalVideos > 0 {
			pct := float64(p.ProcessedVideos) / float64(p.TotalVideos) * 100
			fmt.Printf("Progress: %d/%d videos (%.0f%%) | Stored: %d | Skipped: %d | Errors: %d | %s",
				p.ProcessedVideos, p.TotalVideos, pct, p.StoredVideos, p.SkippedVideos, p.Errors,
				truncateTitle(p.CurrentVideo, 40))
		}
	}

	p := pipeline.New(sum, ev, st)
	results, runErr := p.Run(ctx, videos, opts)

	fmt.Printf("\r\033[K")

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("ingestion failed: %w", runErr)
	}
	if ctx.Err() != nil {
		fmt.Println(ui.Warning.Render("Ingestion cancelled"))
	} else {
		fmt.Println(ui.Success.Render("Ingestion complete!"))
	}
	fmt.Println()

	printTally(pipeline.Tally(results))
	fmt.Printf("  %-16s %s\n", "duration:", time.Since(p.Progress().StartTime).Round(time.Millisecond))

	if ingestNoExport || len(results) == 0 {
		return nil
	}

	dir := ingestExportDir
	if dir == "" {
		dir = cfg.Pipeline.ExportDir
	}
	path, err := pipeline.ExportCSV(results, dir, time.Now())
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Report: %s\n", path)
	return nil
}

// printTally prints status counts in a stable order.
func printTally(tally map[pipeline.Status]int) {
	statuses := make([]pipeline.Status, 0, len(tally))
	for s := range tally {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	for _, s := range statuses {
		fmt.Printf("  %s %d\n", ui.StatusStyle(s).Render(fmt.Sprintf("%-16s", string(s)+":")), tally[s])
	}
}

// truncateTitle shortens a title for the progress line.
func truncateTitle(title string, maxLen int) string {
	r := []rune(title)
	if len(r) <= maxLen {
		return title
	}
	return string(r[:maxLen-3]) + "..."
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
