package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/nickcecere/mirag/internal/evaluate"
	"github.com/nickcecere/mirag/internal/ui"
)

var evaluateRaw bool

// evaluateCmd scores a summary with the configured evaluator.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate <file>",
	Short: "Score a session summary for motivational interviewing quality",
	Long: `Send a session summary to the configured evaluator and print the score
followed by the model's justification.

Use "-" to read the summary from stdin.

Examples:
  mirag evaluate summary.txt
  pbpaste | mirag evaluate -`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().BoolVar(&evaluateRaw, "raw", false, "print the reply without markdown rendering")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	summary := strings.TrimSpace(string(data))
	if summary == "" {
		return fmt.Errorf("summary is empty")
	}

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	ev, err := evaluate.NewEvaluator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create evaluator: %w", err)
	}

	log.Debug("Evaluating summary", "provider", ev.Provider(), "chars", len(summary))

	stop := startSpinner("Evaluating summary")
	score, err := evaluate.ScoreSummary(ctx, ev, summary)
	stop()

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if score.HasValue {
		fmt.Printf("%s %s\n\n", ui.Header.Render("Score:"), ui.Bold.Render(score.String()))
	} else {
		fmt.Println(ui.Warning.Render("No score found in the reply"))
		fmt.Println()
	}

	if evaluateRaw {
		fmt.Println(score.Raw)
		return nil
	}

	rendered, err := renderMarkdown(score.Raw)
	if err != nil {
		fmt.Println(score.Raw)
		return nil
	}
	fmt.Print(rendered)
	return nil
}
