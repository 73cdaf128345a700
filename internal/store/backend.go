package store

import "context"

// Backend is the narrow view of the external vector service the store needs.
type Backend interface {
	// DescribeIndex returns nil, nil when the index does not exist.
	DescribeIndex(ctx context.Context, name string) (*IndexInfo, error)

	// CreateIndex creates an index bound to an embedding model.
	CreateIndex(ctx context.Context, spec IndexSpec) error

	// Upsert writes one batch into the target namespace.
	Upsert(ctx context.Context, target Target, batch Batch) error

	// Fetch returns the records found for ids. Missing ids are absent.
	Fetch(ctx context.Context, target Target, ids []string) (map[string]QueryResult, error)

	// Query returns up to q.TopK matches ordered by similarity.
	Query(ctx context.Context, target Target, q Query) ([]QueryResult, error)
}
