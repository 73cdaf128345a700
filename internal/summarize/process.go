package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
)

// Result is everything learned about one processed video.
type Result struct {
	IndexID   string
	TaskID    string
	VideoID   string
	Summary   string
	Embedding []float32
}

// Process indexes the video at videoURL in a temporary index, waits for it,
// then collects its summary and embedding. The temporary index is always
// deleted before returning.
func (c *Client) Process(ctx context.Context, title, videoURL string) (*Result, error) {
	name := TempIndexName(title, c.now().Unix())

	indexID, err := c.EnsureIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Cleanup must run even when ctx is already cancelled.
		if err := c.DeleteIndex(context.WithoutCancel(ctx), indexID); err != nil {
			log.Warn("Failed to delete temporary video index", "index", indexID, "error", err)
		}
	}()

	task, err := c.CreateTask(ctx, indexID, videoURL)
	if err != nil {
		return nil, err
	}

	task, err = c.WaitForTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	log.Info("Video processed", "title", title, "video", task.VideoID)

	summary, err := c.Summarize(ctx, task.VideoID)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		return nil, fmt.Errorf("empty summary for %q", title)
	}

	embedding, err := c.VideoEmbedding(ctx, indexID, task.VideoID)
	if err != nil {
		return nil, err
	}

	return &Result{
		IndexID:   indexID,
		TaskID:    task.ID,
		VideoID:   task.VideoID,
		Summary:   summary,
		Embedding: embedding,
	}, nil
}

// TempIndexName derives a per-video index name from the title: letters,
// digits, spaces, dashes and underscores are kept, cut to 20 characters, and
// suffixed with stamp.
func TempIndexName(title string, stamp int64) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			return r
		}
		return -1
	}, title)

	runes := []rune(safe)
	if len(runes) > 20 {
		runes = runes[:20]
	}
	safe = strings.TrimRight(string(runes), " ")

	return fmt.Sprintf("temp_%s_%d", safe, stamp)
}
