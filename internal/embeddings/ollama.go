package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// OllamaService embeds summaries and queries with a local Ollama server.
// The reported dimension follows the last response.
type OllamaService struct {
	baseURL string
	model   string
	client  *http.Client

	// indexDim rejects vectors the index cannot compare. Zero accepts any size.
	indexDim int

	mu         sync.RWMutex
	dimensions int
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaService creates an Ollama embedder. indexDim is the dimension of
// the index the vectors are compared with, or zero when unknown.
func NewOllamaService(baseURL, model string, indexDim int) (*OllamaService, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	dimensions := GetModelDimensions(model)
	if dimensions == 0 {
		dimensions = indexDim
	}
	if dimensions == 0 {
		// corrected on first embed
		dimensions = 768
		log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
	}

	return &OllamaService{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		indexDim:   indexDim,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Embed embeds a stored summary.
func (s *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(ctx, text, false)
}

// EmbedQuery embeds a search query.
func (s *OllamaService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(ctx, text, true)
}

// EmbedBatch embeds several summaries in one request.
func (s *OllamaService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, texts, false)
}

func (s *OllamaService) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

func (s *OllamaService) Provider() Provider { return ProviderOllama }

func (s *OllamaService) ModelName() string { return s.model }

func (s *OllamaService) embedOne(ctx context.Context, text string, query bool) ([]float32, error) {
	vectors, err := s.embed(ctx, []string{text}, query)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embed sends texts with the model's task prefix and returns one vector per
// input, each sized for the index.
func (s *OllamaService) embed(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	prefix := ollamaPrefix(s.model, query)
	input := make([]string, len(texts))
	for i, text := range texts {
		input[i] = prefix + text
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: s.model, Input: input, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embeddings from Ollama", "model", s.model, "count", len(texts), "query", query)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	for _, vec := range result.Embeddings {
		if err := CheckDimensions(vec, s.indexDim); err != nil {
			return nil, fmt.Errorf("model %s: %w", s.model, err)
		}
	}

	if n := len(result.Embeddings[0]); n > 0 {
		s.mu.Lock()
		s.dimensions = n
		s.mu.Unlock()
	}
	return result.Embeddings, nil
}

// ollamaPrefix returns the task prefix a model was trained with.
func ollamaPrefix(model string, query bool) string {
	switch model {
	case "nomic-embed-text":
		if query {
			return "search_query: "
		}
		return "search_document: "
	case "mxbai-embed-large":
		if query {
			return "Represent this sentence for searching relevant passages: "
		}
	}
	return ""
}
