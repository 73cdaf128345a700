package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ReportPrefix is the file name prefix of exported run reports.
const ReportPrefix = "embedding_results"

var reportHeader = []string{
	"video_id",
	"video_url",
	"video_title",
	"status",
	"embedding_dimension",
	"error",
	"has_summary",
	"has_gemini_score",
	"gemini_score",
}

// WriteCSV writes results as CSV with a header row.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}

	for _, r := range results {
		dim := ""
		if r.EmbeddingDimension > 0 {
			dim = strconv.Itoa(r.EmbeddingDimension)
		}
		row := []string{
			r.VideoID,
			r.VideoURL,
			r.VideoTitle,
			string(r.Status),
			dim,
			r.Error,
			strconv.FormatBool(r.HasSummary),
			strconv.FormatBool(r.HasScore),
			r.Score,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportCSV writes results to dir/embedding_results_<timestamp>.csv, creating
// dir if needed, and returns the file path.
func ExportCSV(results []Result, dir string, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", ReportPrefix, now.Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	if err := WriteCSV(f, results); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}

// Tally counts results per status.
func Tally(results []Result) map[Status]int {
	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
