// Package summarize is a client for the TwelveLabs video-understanding API.
// It indexes a video, waits for processing, and returns a text summary and a
// video embedding.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/mirag/internal/config"
)

// Models bound to every index: marengo embeds, pegasus summarizes.
const (
	EmbeddingModel = "marengo2.7"
	SummaryModel   = "pegasus1.2"
)

var (
	// ErrMissingAPIKey is returned when no TwelveLabs key is configured.
	ErrMissingAPIKey = errors.New("TwelveLabs API key is required")

	// ErrTaskFailed is returned when the service reports a failed indexing task.
	ErrTaskFailed = errors.New("video indexing task failed")

	// ErrTaskTimeout is returned when a task is not ready within the wait budget.
	ErrTaskTimeout = errors.New("timed out waiting for video indexing task")

	// ErrNoEmbedding is returned when a video has no embedding segments.
	ErrNoEmbedding = errors.New("video has no embedding")
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twelvelabs returned status %d: %s", e.StatusCode, e.Body)
}

// Index is a video index.
type Index struct {
	ID   string `json:"_id"`
	Name string `json:"index_name"`
}

// Task tracks the indexing of one video.
type Task struct {
	ID      string `json:"_id"`
	IndexID string `json:"index_id"`
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

// Task statuses that end polling.
const (
	TaskReady  = "ready"
	TaskFailed = "failed"
)

// Client talks to the TwelveLabs REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client

	pollInterval time.Duration
	maxWait      time.Duration

	// settle is waited between index deletion checks.
	settle time.Duration
	now    func() time.Time
}

// NewClient creates a client from the summarizer configuration.
func NewClient(cfg config.SummarizerConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultSummarizerURL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = config.DefaultPollInterval
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = config.DefaultMaxWait
	}

	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: 2 * time.Minute},
		pollInterval: poll,
		maxWait:      maxWait,
		settle:       2 * time.Second,
		now:          time.Now,
	}, nil
}

// ListIndexes returns the indexes visible to the API key.
func (c *Client) ListIndexes(ctx context.Context) ([]Index, error) {
	var resp struct {
		Data []Index `json:"data"`
	}
	q := url.Values{"page_limit": {"50"}}
	if err := c.do(ctx, http.MethodGet, "/indexes?"+q.Encode(), nil, "", &resp); err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	return resp.Data, nil
}

type indexModel struct {
	Name    string   `json:"model_name"`
	Options []string `json:"model_options"`
}

type createIndexRequest struct {
	Name   string       `json:"index_name"`
	Models []indexModel `json:"models"`
	Addons []string     `json:"addons,omitempty"`
}

// CreateIndex creates an index with the embedding and summary models enabled
// for visual and audio content. It returns the new index id.
func (c *Client) CreateIndex(ctx context.Context, name string) (string, error) {
	req := createIndexRequest{
		Name: name,
		Models: []indexModel{
			{Name: EmbeddingModel, Options: []string{"visual", "audio"}},
			{Name: SummaryModel, Options: []string{"visual", "audio"}},
		},
		Addons: []string{"thumbnail"},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp struct {
		ID string `json:"_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/indexes", bytes.NewReader(body), "application/json", &resp); err != nil {
		return "", fmt.Errorf("failed to create index: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("failed to create index: no id returned")
	}

	log.Debug("Created video index", "name", name, "id", resp.ID)
	return resp.ID, nil
}

// DeleteIndex deletes an index and every video in it.
func (c *Client) DeleteIndex(ctx context.Context, indexID string) error {
	if err := c.do(ctx, http.MethodDelete, "/indexes/"+url.PathEscape(indexID), nil, "", nil); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	log.Debug("Deleted video index", "id", indexID)
	return nil
}

// EnsureIndex creates a fresh index named name, deleting any existing index
// with that name first.
func (c *Client) EnsureIndex(ctx context.Context, name string) (string, error) {
	indexes, err := c.ListIndexes(ctx)
	if err != nil {
		return "", err
	}

	for _, idx := range indexes {
		if idx.Name != name {
			continue
		}

		log.Info("Video index exists, replacing", "name", name)
		if err := c.DeleteIndex(ctx, idx.ID); err != nil {
			return "", err
		}
		if err := c.waitForDeletion(ctx, name); err != nil {
			return "", err
		}
		break
	}

	return c.CreateIndex(ctx, name)
}

func (c *Client) waitForDeletion(ctx context.Context, name string) error {
	for attempt := 0; attempt < 10; attempt++ {
		if err := sleep(ctx, c.settle); err != nil {
			return err
		}

		indexes, err := c.ListIndexes(ctx)
		if err != nil {
			return err
		}
		if !hasIndex(indexes, name) {
			return nil
		}
	}
	return fmt.Errorf("index %q still exists after deletion", name)
}

func hasIndex(indexes []Index, name string) bool {
	for _, idx := range indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// CreateTask starts indexing the video at videoURL.
func (c *Client) CreateTask(ctx context.Context, indexID, videoURL string) (*Task, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("index_id", indexID); err != nil {
		return nil, err
	}
	if err := w.WriteField("video_url", videoURL); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var task Task
	if err := c.do(ctx, http.MethodPost, "/tasks", &buf, w.FormDataContentType(), &task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if task.IndexID == "" {
		task.IndexID = indexID
	}

	log.Debug("Created indexing task", "task", task.ID, "index", indexID)
	return &task, nil
}

// Task returns the current state of a task.
func (c *Client) Task(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, "", &task); err != nil {
		return nil, fmt.Errorf("failed to retrieve task: %w", err)
	}
	return &task, nil
}

// WaitForTask polls a task until it is ready, fails, or the wait budget runs out.
func (c *Client) WaitForTask(ctx context.Context, taskID string) (*Task, error) {
	deadline := c.now().Add(c.maxWait)

	for {
		task, err := c.Task(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch task.Status {
		case TaskReady:
			return task, nil
		case TaskFailed:
			return nil, fmt.Errorf("%w: %s", ErrTaskFailed, taskID)
		}

		log.Debug("Waiting for indexing task", "task", taskID, "status", task.Status)

		if !c.now().Add(c.pollInterval).Before(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTaskTimeout, taskID, c.maxWait)
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

// Summarize returns the generated summary of an indexed video.
func (c *Client) Summarize(ctx context.Context, videoID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"video_id": videoID,
		"type":     "summary",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.do(ctx, http.MethodPost, "/summarize", bytes.NewReader(body), "application/json", &resp); err != nil {
		return "", fmt.Errorf("failed to summarize video: %w", err)
	}
	return strings.TrimSpace(resp.Summary), nil
}

type segment struct {
	Float  []float32 `json:"float"`
	Option string    `json:"embedding_option"`
}

type videoInfo struct {
	Embedding struct {
		ModelName      string `json:"model_name"`
		VideoEmbedding struct {
			Segments []segment `json:"segments"`
		} `json:"video_embedding"`
	} `json:"embedding"`
}

// VideoEmbedding returns one vector for the whole video: the mean of its
// visual-text and audio segment embeddings.
func (c *Client) VideoEmbedding(ctx context.Context, indexID, videoID string) ([]float32, error) {
	q := url.Values{"embedding_option": {"visual-text", "audio"}}
	path := fmt.Sprintf("/indexes/%s/videos/%s?%s", url.PathEscape(indexID), url.PathEscape(videoID), q.Encode())

	var info videoInfo
	if err := c.do(ctx, http.MethodGet, path, nil, "", &info); err != nil {
		return nil, fmt.Errorf("failed to retrieve video embedding: %w", err)
	}

	return meanEmbedding(info.Embedding.VideoEmbedding.Segments)
}

func meanEmbedding(segments []segment) ([]float32, error) {
	var (
		sum   []float64
		count int
	)
	for _, s := range segments {
		if len(s.Float) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(s.Float))
		}
		if len(s.Float) != len(sum) {
			return nil, fmt.Errorf("segment embeddings differ in size: %d != %d", len(s.Float), len(sum))
		}
		for i, f := range s.Float {
			sum[i] += float64(f)
		}
		count++
	}
	if count == 0 {
		return nil, ErrNoEmbedding
	}

	mean := make([]float32, len(sum))
	for i, v := range sum {
		mean[i] = float32(v / float64(count))
	}
	return mean, nil
}

// do sends one request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
