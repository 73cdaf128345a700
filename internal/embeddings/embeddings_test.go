package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nickcecere/mirag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelDimensions(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"bge-m3", 1024},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"unknown-model", 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelDimensions(tt.model))
		})
	}
}

func TestNewOllamaService(t *testing.T) {
	t.Run("default URL", func(t *testing.T) {
		svc, err := NewOllamaService("", "nomic-embed-text", 0)
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:11434", svc.baseURL)
		assert.Equal(t, 768, svc.Dimensions())
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
	})

	t.Run("trailing slash removed", func(t *testing.T) {
		svc, err := NewOllamaService("http://gpu-box:11434/", "mxbai-embed-large", 0)
		require.NoError(t, err)

		assert.Equal(t, "http://gpu-box:11434", svc.baseURL)
		assert.Equal(t, 1024, svc.Dimensions())
	})

	t.Run("unknown model", func(t *testing.T) {
		svc, err := NewOllamaService("", "custom-model", 0)
		require.NoError(t, err)
		assert.Equal(t, 768, svc.Dimensions())
	})
}

func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIService("", "text-embedding-3-small", "", 0)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("known model", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-small", "", 0)
		require.NoError(t, err)

		assert.Equal(t, 1536, svc.Dimensions())
		assert.False(t, svc.shorten)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
	})

	t.Run("shortened to index dimension", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-large", "", 1024)
		require.NoError(t, err)

		assert.Equal(t, 1024, svc.Dimensions())
		assert.True(t, svc.shorten)
	})

	t.Run("legacy model is never shortened", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-ada-002", "", 1024)
		require.NoError(t, err)
		assert.False(t, svc.shorten)
	})

	t.Run("unknown model", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "custom-model", "", 0)
		require.NoError(t, err)
		assert.Equal(t, 1536, svc.Dimensions())
	})
}

func TestOllamaPrefix(t *testing.T) {
	tests := []struct {
		model     string
		wantDoc   string
		wantQuery string
	}{
		{"nomic-embed-text", "search_document: ", "search_query: "},
		{"mxbai-embed-large", "", "Represent this sentence for searching relevant passages: "},
		{"bge-m3", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.wantDoc, ollamaPrefix(tt.model, false))
			assert.Equal(t, tt.wantQuery, ollamaPrefix(tt.model, true))
		})
	}
}

func TestOllamaSummaryAndQueryShareRequest(t *testing.T) {
	var inputs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs = append(inputs, req.Input...)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2}}})
	}))
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "nomic-embed-text", 0)
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "client ambivalence")
	require.NoError(t, err)
	_, err = svc.EmbedQuery(context.Background(), "client ambivalence")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"search_document: client ambivalence",
		"search_query: client ambivalence",
	}, inputs)
}

func TestOllamaIndexDimension(t *testing.T) {
	server := mockOllamaServer(t, 8)
	defer server.Close()

	t.Run("mismatch rejected", func(t *testing.T) {
		svc, err := NewOllamaService(server.URL, "custom-model", 4)
		require.NoError(t, err)
		assert.Equal(t, 4, svc.Dimensions())

		_, err = svc.EmbedQuery(context.Background(), "reflective listening")
		assert.ErrorContains(t, err, "index expects 4")

		_, err = svc.EmbedBatch(context.Background(), []string{"a", "b"})
		assert.ErrorContains(t, err, "index expects 4")
	})

	t.Run("match accepted", func(t *testing.T) {
		svc, err := NewOllamaService(server.URL, "custom-model", 8)
		require.NoError(t, err)

		vec, err := svc.Embed(context.Background(), "summary")
		require.NoError(t, err)
		assert.Len(t, vec, 8)
	})
}

// mockOllamaServer simulates Ollama's embed API. Input i gets the vector
// filled with (i+1)/10.
func mockOllamaServer(t *testing.T, dims int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embedding := make([]float32, dims)
			for j := range embedding {
				embedding[j] = float32(i+1) * 0.1
			}
			embeddings[i] = embedding
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	}))
}

func TestOllamaEmbed(t *testing.T) {
	server := mockOllamaServer(t, 768)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "nomic-embed-text", 0)
	require.NoError(t, err)
	ctx := context.Background()

	embedding, err := svc.Embed(ctx, "The counselor reflects the client's concern.")
	require.NoError(t, err)
	assert.Len(t, embedding, 768)
	assert.Equal(t, float32(0.1), embedding[0])

	query, err := svc.EmbedQuery(ctx, "reflective listening")
	require.NoError(t, err)
	assert.Len(t, query, 768)

	batch, err := svc.EmbedBatch(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, emb := range batch {
		assert.Equal(t, float32(i+1)*0.1, emb[0])
	}

	empty, err := svc.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestOllamaErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("model not found"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", 0)
		_, err := svc.Embed(context.Background(), "test")

		assert.ErrorContains(t, err, "status 500")
		assert.ErrorContains(t, err, "model not found")
	})

	t.Run("connection error", func(t *testing.T) {
		svc, _ := NewOllamaService("http://localhost:99999", "nomic-embed-text", 0)
		_, err := svc.Embed(context.Background(), "test")
		assert.ErrorContains(t, err, "failed to make request")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", 0)
		_, err := svc.Embed(context.Background(), "test")
		assert.ErrorContains(t, err, "failed to decode response")
	})

	t.Run("short response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1}}})
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", 0)
		_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
		assert.ErrorContains(t, err, "1 embeddings for 2 inputs")
	})

	t.Run("cancelled context", func(t *testing.T) {
		server := mockOllamaServer(t, 4)
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.Embed(ctx, "test")
		assert.Error(t, err)
	})
}

func TestOllamaDimensionUpdate(t *testing.T) {
	server := mockOllamaServer(t, 512)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text", 0)
	assert.Equal(t, 768, svc.Dimensions())

	_, err := svc.Embed(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 512, svc.Dimensions())
}

func TestOpenAIEmbedRequestsDimensions(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-large",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.3, 0.4]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	}))
	defer server.Close()

	svc, err := NewOpenAIService("sk-test", "text-embedding-3-large", server.URL, 2)
	require.NoError(t, err)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
	assert.Equal(t, float64(2), got["dimensions"])
	assert.Equal(t, "text-embedding-3-large", got["model"])
}

func TestNewService(t *testing.T) {
	t.Run("ollama", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "ollama"

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, config.DefaultOllamaEmbedModel, svc.ModelName())
	})

	t.Run("openai follows the pinecone index dimension", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "openai"
		cfg.Embeddings.OpenAI.APIKey = "sk-test"
		cfg.Vector.Backend = "pinecone"
		cfg.Vector.Dimension = 1024

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, 1024, svc.Dimensions())
	})

	t.Run("ollama checks the pinecone index dimension", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "ollama"
		cfg.Vector.Backend = "pinecone"
		cfg.Vector.Dimension = 1024

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, 1024, svc.(*OllamaService).indexDim)
	})

	t.Run("openai explicit dimensions win", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "openai"
		cfg.Embeddings.OpenAI.APIKey = "sk-test"
		cfg.Embeddings.OpenAI.Dimensions = 256

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, 256, svc.Dimensions())
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "unsupported"

		_, err := NewService(cfg)
		assert.ErrorContains(t, err, "unsupported embedding provider")
	})
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, CheckDimensions([]float32{1, 2}, 2))
	assert.NoError(t, CheckDimensions([]float32{1, 2}, 0))
	assert.ErrorContains(t, CheckDimensions([]float32{1, 2}, 3), "expects 3")
}
