// Package embeddings turns summary and query text into vectors comparable
// with the ones held in the vector index.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickcecere/mirag/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// ErrMissingAPIKey is returned when a hosted provider has no credential.
var ErrMissingAPIKey = errors.New("embedding provider API key is required")

// Service defines the interface for embedding services.
type Service interface {
	// Embed generates an embedding for a stored document such as a summary.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery generates an embedding for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple documents.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"bge-m3":                 1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates an embedding service based on the configuration.
// Against Pinecone the index dimension is fixed up front, so OpenAI models
// are asked for it and Ollama vectors of another size are rejected.
func NewService(cfg *config.Config) (Service, error) {
	indexDim := 0
	if cfg.Vector.Backend == "pinecone" {
		indexDim = cfg.Vector.Dimension
	}

	switch Provider(cfg.Embeddings.Provider) {
	case ProviderOllama:
		return NewOllamaService(
			cfg.Embeddings.Ollama.URL,
			cfg.Embeddings.Ollama.Model,
			indexDim,
		)
	case ProviderOpenAI:
		dims := cfg.Embeddings.OpenAI.Dimensions
		if dims == 0 {
			dims = indexDim
		}
		return NewOpenAIService(
			cfg.Embeddings.OpenAI.APIKey,
			cfg.Embeddings.OpenAI.Model,
			cfg.Embeddings.OpenAI.BaseURL,
			dims,
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embeddings.Provider)
	}
}

// CheckDimensions reports whether vec can be compared with an index of
// dimension want. A zero want accepts any size.
func CheckDimensions(vec []float32, want int) error {
	if want == 0 || len(vec) == want {
		return nil
	}
	return fmt.Errorf("embedding has %d dimensions but the index expects %d", len(vec), want)
}
