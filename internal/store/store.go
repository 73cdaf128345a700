package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Defaults applied by New when an option is left empty.
const (
	DefaultCloud       = "aws"
	DefaultRegion      = "us-east-1"
	DefaultEmbedModel  = "llama-text-embed-v2"
	DefaultMetric      = "cosine"
	DefaultSettleDelay = 2 * time.Second

	// DefaultRetrieveLimit is the top-k ceiling used when listing without a
	// limit. Pinecone caps top_k at 1000 when values or metadata are
	// returned, so listings against it are clamped to that.
	DefaultRetrieveLimit = 10000
)

// Options configures a VectorIndexStore.
type Options struct {
	IndexName  string
	FieldMap   FieldMap
	Cloud      string
	Region     string
	EmbedModel string
	Metric     string

	// Dimension is the declared vector size. Zero adopts the dimension the
	// service reports for the index.
	Dimension int

	// SettleDelay is waited after creating an index. Zero means
	// DefaultSettleDelay; negative disables the wait.
	SettleDelay time.Duration

	// Shape fixes the record shape accepted by Store. ShapeAuto lets the first
	// valid record of each call decide.
	Shape Shape
}

func (o *Options) applyDefaults() {
	if o.FieldMap.fields == nil {
		o.FieldMap = DefaultFieldMap()
	}
	if o.Cloud == "" {
		o.Cloud = DefaultCloud
	}
	if o.Region == "" {
		o.Region = DefaultRegion
	}
	if o.EmbedModel == "" {
		o.EmbedModel = DefaultEmbedModel
	}
	if o.Metric == "" {
		o.Metric = DefaultMetric
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
}

// VectorIndexStore owns one index and namespace pair in the vector service.
// It is immutable after New and safe for concurrent use. The zero value is
// uninitialized and every operation returns ErrNotReady.
type VectorIndexStore struct {
	backend   Backend
	handle    IndexHandle
	shape     Shape
	dimension int
	ready     bool
}

// New binds a store to opts.IndexName, creating the index when the service
// does not have it yet. Index creation is never retried.
func New(ctx context.Context, backend Backend, opts Options) (*VectorIndexStore, error) {
	if backend == nil {
		return nil, errors.New("vector backend is required")
	}
	if opts.IndexName == "" {
		return nil, errors.New("index name is required")
	}
	opts.applyDefaults()

	handle := NewIndexHandle(opts.IndexName, opts.FieldMap)

	info, err := backend.DescribeIndex(ctx, handle.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check index: %w", err)
	}

	if info == nil {
		info, err = createIndex(ctx, backend, handle, opts)
		if err != nil {
			return nil, err
		}
	} else {
		log.Debug("Index exists", "index", handle.Name, "dimension", info.Dimension)
	}

	dim := opts.Dimension
	if dim == 0 {
		dim = info.Dimension
	}

	return &VectorIndexStore{
		backend:   backend,
		handle:    handle,
		shape:     opts.Shape,
		dimension: dim,
		ready:     true,
	}, nil
}

// createIndex issues the create call, waits for the service to settle and
// confirms the index is present and ready.
func createIndex(ctx context.Context, backend Backend, handle IndexHandle, opts Options) (*IndexInfo, error) {
	log.Info("Creating index", "index", handle.Name, "model", opts.EmbedModel, "region", opts.Region)

	spec := IndexSpec{
		Name:       handle.Name,
		Cloud:      opts.Cloud,
		Region:     opts.Region,
		EmbedModel: opts.EmbedModel,
		FieldMap:   handle.FieldMap,
		Dimension:  opts.Dimension,
		Metric:     opts.Metric,
	}
	if err := backend.CreateIndex(ctx, spec); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrCreateIndex, handle.Name, err)
	}

	if opts.SettleDelay > 0 {
		timer := time.NewTimer(opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	info, err := backend.DescribeIndex(ctx, handle.Name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrAmbiguousCreate, handle.Name, err)
	}
	if info == nil || !info.Ready {
		return nil, fmt.Errorf("%w: %q", ErrAmbiguousCreate, handle.Name)
	}

	log.Info("Index created", "index", handle.Name, "namespace", handle.Namespace)
	return info, nil
}

// Handle returns the bound index handle.
func (s *VectorIndexStore) Handle() IndexHandle {
	return s.handle
}

// Dimension returns the vector size of the bound index, or 0 when unknown.
func (s *VectorIndexStore) Dimension() int {
	return s.dimension
}

// Close releases the backend when it holds local resources.
func (s *VectorIndexStore) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *VectorIndexStore) target() Target {
	return Target{Index: s.handle.Name, Namespace: s.handle.Namespace}
}

// Store validates records and upserts the accepted ones in a single call to
// the service. Stored is false when there was nothing valid to send. An upsert
// failure is returned wrapped in ErrUpsert.
func (s *VectorIndexStore) Store(ctx context.Context, records []Record) (*StoreResult, error) {
	if !s.ready {
		return nil, ErrNotReady
	}

	result := &StoreResult{Shape: s.shape}
	if len(records) == 0 {
		log.Debug("No records to store")
		return result, nil
	}

	v := validator{fields: s.handle.FieldMap, shape: s.shape, dimension: s.dimension}
	entries, rejected, shape := v.run(records)
	result.Shape = shape
	result.Rejected = rejected

	for _, r := range rejected {
		log.Warn("Skipping invalid record", "position", r.Index, "id", r.ID, "reason", r.Reason)
	}

	if len(entries) == 0 {
		log.Warn("No valid records to store", "rejected", len(rejected))
		return result, nil
	}

	batch := Batch{
		Shape:     shape,
		TextField: s.handle.FieldMap.Text(),
		Entries:   entries,
	}
	if err := s.backend.Upsert(ctx, s.target(), batch); err != nil {
		return result, fmt.Errorf("%w: %w", ErrUpsert, err)
	}

	result.Stored = true
	result.Upserted = len(entries)

	log.Info("Stored records", "index", s.handle.Name, "namespace", s.handle.Namespace,
		"count", len(entries), "shape", shape, "rejected", len(rejected))
	return result, nil
}

// StoreOne is Store with a single record.
func (s *VectorIndexStore) StoreOne(ctx context.Context, record Record) (*StoreResult, error) {
	return s.Store(ctx, []Record{record})
}

// StoreJSON decodes a JSON array of records and stores them.
func (s *VectorIndexStore) StoreJSON(ctx context.Context, data []byte) (*StoreResult, error) {
	if !s.ready {
		return nil, ErrNotReady
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}
	return s.Store(ctx, records)
}

// RetrieveOptions selects what Retrieve and Lookup return.
type RetrieveOptions struct {
	// IndexName defaults to the bound index. The namespace is always derived
	// from the requested name.
	IndexName string

	// Limit caps a listing. Zero means DefaultRetrieveLimit.
	Limit int

	// IDs switches from listing to exact fetch.
	IDs []string

	// Dimension is the size of the listing query vector. Zero uses the bound
	// index's dimension, so listing a foreign index of another size must set
	// it; otherwise the mismatched query degrades to an empty result.
	Dimension int
}

// Retrieve returns records by id, or lists up to Limit records when no ids
// are given. Service errors are logged and yield an empty map; use Lookup to
// tell failure from absence.
func (s *VectorIndexStore) Retrieve(ctx context.Context, opts RetrieveOptions) map[string]QueryResult {
	results, err := s.Lookup(ctx, opts)
	if err != nil {
		log.Error("Failed to retrieve data", "index", s.resolveName(opts.IndexName), "error", err)
		return map[string]QueryResult{}
	}
	return results
}

// Lookup behaves like Retrieve but returns service errors.
func (s *VectorIndexStore) Lookup(ctx context.Context, opts RetrieveOptions) (map[string]QueryResult, error) {
	if !s.ready {
		return nil, ErrNotReady
	}

	name := s.resolveName(opts.IndexName)
	target := Target{Index: name, Namespace: NamespaceFor(name)}

	if len(opts.IDs) > 0 {
		return s.fetch(ctx, target, opts.IDs)
	}

	dim := opts.Dimension
	if dim == 0 {
		dim = s.dimension
	}
	if dim <= 0 {
		return nil, fmt.Errorf("index %q has no known dimension", name)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}

	matches, err := s.backend.Query(ctx, target, Query{
		Vector:          make([]float32, dim),
		TopK:            limit,
		IncludeValues:   true,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	results := make(map[string]QueryResult, len(matches))
	for _, m := range matches {
		results[m.ID] = m.normalize()
	}
	log.Debug("Listed records", "index", name, "namespace", target.Namespace, "count", len(results))
	return results, nil
}

func (s *VectorIndexStore) fetch(ctx context.Context, target Target, ids []string) (map[string]QueryResult, error) {
	found, err := s.backend.Fetch(ctx, target, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	results := make(map[string]QueryResult, len(found))
	for _, id := range ids {
		r, ok := found[id]
		if !ok {
			continue
		}
		if r.ID == "" {
			r.ID = id
		}
		results[id] = r.normalize()
	}
	log.Debug("Fetched records", "index", target.Index, "requested", len(ids), "found", len(results))
	return results, nil
}

// Similar returns the topK records closest to vector, most similar first.
func (s *VectorIndexStore) Similar(ctx context.Context, vector []float32, topK int) ([]QueryResult, error) {
	if !s.ready {
		return nil, ErrNotReady
	}
	if topK <= 0 {
		topK = 10
	}

	matches, err := s.backend.Query(ctx, s.target(), Query{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query similar records: %w", err)
	}

	results := make([]QueryResult, len(matches))
	for i, m := range matches {
		results[i] = m.normalize()
	}
	return results, nil
}

func (s *VectorIndexStore) resolveName(name string) string {
	if name == "" {
		return s.handle.Name
	}
	return name
}
