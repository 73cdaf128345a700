package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/mirag/internal/config"
)

// fakeService is an in-memory stand-in for the TwelveLabs API.
type fakeService struct {
	mu sync.Mutex

	indexes  map[string]string // id -> name
	nextID   int
	statuses []string // returned in order by GET /tasks/{id}; last repeats
	polls    int
	segments string

	deleted     []string
	created     []createIndexRequest
	taskFields  map[string]string
	summaryBody map[string]string
	apiKeys     []string
}

func newFakeService() *fakeService {
	return &fakeService{
		indexes:  make(map[string]string),
		statuses: []string{"pending", "indexing", "ready"},
		segments: `[{"float":[1,2],"embedding_option":"visual-text"},{"float":[3,4],"embedding_option":"audio"}]`,
	}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.apiKeys = append(f.apiKeys, r.Header.Get("x-api-key"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/indexes":
		var data []map[string]string
		for id, name := range f.indexes {
			data = append(data, map[string]string{"_id": id, "index_name": name})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})

	case r.Method == http.MethodPost && r.URL.Path == "/indexes":
		var req createIndexRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.created = append(f.created, req)
		f.nextID++
		id := fmt.Sprintf("idx-%d", f.nextID)
		f.indexes[id] = req.Name
		json.NewEncoder(w).Encode(map[string]string{"_id": id})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/indexes/"):
		id := strings.TrimPrefix(r.URL.Path, "/indexes/")
		f.deleted = append(f.deleted, id)
		delete(f.indexes, id)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && r.URL.Path == "/tasks":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.taskFields = map[string]string{
			"index_id":  r.FormValue("index_id"),
			"video_url": r.FormValue("video_url"),
		}
		json.NewEncoder(w).Encode(map[string]string{"_id": "task-1", "video_id": "vid-1"})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tasks/"):
		status := f.statuses[len(f.statuses)-1]
		if f.polls < len(f.statuses) {
			status = f.statuses[f.polls]
		}
		f.polls++
		json.NewEncoder(w).Encode(map[string]string{
			"_id":      strings.TrimPrefix(r.URL.Path, "/tasks/"),
			"video_id": "vid-1",
			"status":   status,
		})

	case r.Method == http.MethodPost && r.URL.Path == "/summarize":
		json.NewDecoder(r.Body).Decode(&f.summaryBody)
		json.NewEncoder(w).Encode(map[string]string{
			"id":      "sum-1",
			"summary": "  The counselor reflects and affirms.  ",
		})

	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/videos/"):
		opts := r.URL.Query()["embedding_option"]
		if len(opts) != 2 {
			http.Error(w, `{"message":"missing embedding_option"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"_id":"vid-1","embedding":{"model_name":"marengo2.7","video_embedding":{"segments":` + f.segments + `}}}`))

	default:
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, svc *fakeService) *Client {
	t.Helper()

	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	c, err := NewClient(config.SummarizerConfig{
		BaseURL:      server.URL + "/",
		APIKey:       "tl-test",
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
	})
	require.NoError(t, err)
	c.settle = 0
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(config.SummarizerConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(config.SummarizerConfig{APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSummarizerURL, c.baseURL)
	assert.Equal(t, config.DefaultPollInterval, c.pollInterval)
	assert.Equal(t, config.DefaultMaxWait, c.maxWait)
}

func TestCreateIndexPayload(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc)

	id, err := c.CreateIndex(context.Background(), "temp_demo_1")
	require.NoError(t, err)
	assert.Equal(t, "idx-1", id)

	require.Len(t, svc.created, 1)
	req := svc.created[0]
	assert.Equal(t, "temp_demo_1", req.Name)
	assert.Equal(t, []string{"thumbnail"}, req.Addons)
	require.Len(t, req.Models, 2)
	assert.Equal(t, EmbeddingModel, req.Models[0].Name)
	assert.Equal(t, SummaryModel, req.Models[1].Name)
	assert.Equal(t, []string{"visual", "audio"}, req.Models[1].Options)
	assert.Equal(t, "tl-test", svc.apiKeys[0])
}

func TestEnsureIndexReplacesExisting(t *testing.T) {
	svc := newFakeService()
	svc.indexes["old"] = "temp_demo_1"
	svc.indexes["other"] = "keep-me"
	c := newTestClient(t, svc)

	id, err := c.EnsureIndex(context.Background(), "temp_demo_1")
	require.NoError(t, err)

	assert.Equal(t, []string{"old"}, svc.deleted)
	assert.Equal(t, "temp_demo_1", svc.indexes[id])
	assert.Equal(t, "keep-me", svc.indexes["other"])
}

func TestWaitForTask(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		svc := newFakeService()
		c := newTestClient(t, svc)

		task, err := c.WaitForTask(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Equal(t, TaskReady, task.Status)
		assert.Equal(t, "vid-1", task.VideoID)
		assert.Equal(t, 3, svc.polls)
	})

	t.Run("failed", func(t *testing.T) {
		svc := newFakeService()
		svc.statuses = []string{"indexing", "failed"}
		c := newTestClient(t, svc)

		_, err := c.WaitForTask(context.Background(), "task-1")
		assert.ErrorIs(t, err, ErrTaskFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		svc := newFakeService()
		svc.statuses = []string{"indexing"}
		c := newTestClient(t, svc)
		c.maxWait = 5 * time.Millisecond

		_, err := c.WaitForTask(context.Background(), "task-1")
		assert.ErrorIs(t, err, ErrTaskTimeout)
	})

	t.Run("cancelled", func(t *testing.T) {
		svc := newFakeService()
		svc.statuses = []string{"indexing"}
		c := newTestClient(t, svc)
		c.pollInterval = time.Hour
		c.maxWait = 2 * time.Hour

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.WaitForTask(ctx, "task-1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSummarize(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc)

	summary, err := c.Summarize(context.Background(), "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "The counselor reflects and affirms.", summary)
	assert.Equal(t, map[string]string{"video_id": "vid-1", "type": "summary"}, svc.summaryBody)
}

func TestVideoEmbeddingMean(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc)

	vec, err := c.VideoEmbedding(context.Background(), "idx-1", "vid-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, vec)
}

func TestVideoEmbeddingEmpty(t *testing.T) {
	svc := newFakeService()
	svc.segments = `[]`
	c := newTestClient(t, svc)

	_, err := c.VideoEmbedding(context.Background(), "idx-1", "vid-1")
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestMeanEmbeddingSizeMismatch(t *testing.T) {
	_, err := meanEmbedding([]segment{{Float: []float32{1, 2}}, {Float: []float32{1}}})
	assert.ErrorContains(t, err, "differ in size")
}

func TestAPIError(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc)

	err := c.do(context.Background(), http.MethodGet, "/unknown", nil, "", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestProcess(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	result, err := c.Process(context.Background(), "Session #1: Ambivalence", "https://videos.example/1.mp4")
	require.NoError(t, err)

	assert.Equal(t, "vid-1", result.VideoID)
	assert.Equal(t, "task-1", result.TaskID)
	assert.Equal(t, "The counselor reflects and affirms.", result.Summary)
	assert.Equal(t, []float32{2, 3}, result.Embedding)

	assert.Equal(t, "https://videos.example/1.mp4", svc.taskFields["video_url"])
	assert.Equal(t, result.IndexID, svc.taskFields["index_id"])
	assert.Equal(t, "temp_Session 1 Ambivalenc_1700000000", svc.created[0].Name)

	// temporary index is cleaned up
	assert.Equal(t, []string{result.IndexID}, svc.deleted)
	assert.Empty(t, svc.indexes)
}

func TestProcessDeletesIndexOnFailure(t *testing.T) {
	svc := newFakeService()
	svc.statuses = []string{"failed"}
	c := newTestClient(t, svc)

	_, err := c.Process(context.Background(), "demo", "https://videos.example/2.mp4")
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.Len(t, svc.deleted, 1)
	assert.Empty(t, svc.indexes)
}

func TestTempIndexName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Demo", "temp_Demo_42"},
		{"Session #1: Ambivalence", "temp_Session 1 Ambivalenc_42"},
		{"a/b\\c?d", "temp_abcd_42"},
		{"exactly twenty chars ", "temp_exactly twenty chars_42"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, TempIndexName(tt.title, 42))
		})
	}
}
