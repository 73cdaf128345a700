package store

import (
	"context"
	"fmt"

	"github.com/nickcecere/mirag/internal/config"
)

// Backend names accepted in configuration.
const (
	BackendPinecone = "pinecone"
	BackendSQLite   = "sqlite"
)

// Embedder turns text into vectors. The SQLite backend uses it to stand in for
// the service's integrated embedding model.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// NewBackend builds the backend selected in cfg.
func NewBackend(cfg *config.Config, embedder Embedder) (Backend, error) {
	switch cfg.Vector.Backend {
	case BackendPinecone, "":
		return NewPineconeBackend(cfg.Vector.Pinecone.APIKey, cfg.Vector.Pinecone.Host)
	case BackendSQLite:
		return NewSQLiteBackend(cfg.Vector.SQLite.Path, embedder)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}
}

// OptionsFromConfig maps the vector section of cfg to store options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IndexName:   cfg.Vector.Index,
		FieldMap:    NewFieldMap(cfg.Vector.FieldMap),
		Cloud:       cfg.Vector.Cloud,
		Region:      cfg.Vector.Region,
		EmbedModel:  cfg.Vector.EmbedModel,
		Dimension:   cfg.Vector.Dimension,
		SettleDelay: cfg.Vector.SettleDelay,
	}
}

// Open builds the configured backend and binds a store to the configured index.
func Open(ctx context.Context, cfg *config.Config, embedder Embedder) (*VectorIndexStore, error) {
	backend, err := NewBackend(cfg, embedder)
	if err != nil {
		return nil, err
	}

	s, err := New(ctx, backend, OptionsFromConfig(cfg))
	if err != nil {
		if c, ok := backend.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, err
	}
	return s, nil
}
