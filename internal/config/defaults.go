package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Vector index defaults
	DefaultBackend     = "pinecone"
	DefaultIndexName   = "motivational-interviewing-index"
	DefaultCloud       = "aws"
	DefaultRegion      = "us-east-1"
	DefaultEmbedModel  = "llama-text-embed-v2"
	DefaultDimension   = 1024
	DefaultSettleDelay = 2 * time.Second

	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"

	// Evaluator defaults
	DefaultEvaluatorProvider = "gemini"
	DefaultOpenAIEvalModel   = "gpt-4o-mini"

	// Summarizer defaults
	DefaultSummarizerURL = "https://api.twelvelabs.io/v1.3"
	DefaultPollInterval  = 10 * time.Second
	DefaultMaxWait       = 5 * time.Minute

	// Pipeline defaults
	DefaultBatchSize = 5
	DefaultRateLimit = 2 * time.Second
	DefaultExportDir = "exported_datasets"

	// Database
	DefaultDBFileName = "vectors.db"
)

// DefaultFieldMap returns the default field map. A new map is built on every
// call so callers never share one instance.
func DefaultFieldMap() map[string]string {
	return map[string]string{"text": "chunk_text"}
}

// DefaultGeminiModels returns the Gemini models tried in order when scoring.
func DefaultGeminiModels() []string {
	return []string{
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-flash",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/mirag"
	}
	return filepath.Join(home, ".config", "mirag")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/mirag"
	}
	return filepath.Join(home, ".local", "share", "mirag")
}

// DefaultDatabasePath returns the default database file path.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}
