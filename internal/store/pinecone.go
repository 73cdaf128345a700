package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxTopKWithData is the service's top_k ceiling when a query asks for
// values or metadata back.
const maxTopKWithData = 1000

// PineconeBackend talks to the managed Pinecone service.
type PineconeBackend struct {
	client *pinecone.Client

	// host overrides the data-plane host for every index when set.
	host string

	mu    sync.Mutex
	hosts map[string]string
}

var _ Backend = (*PineconeBackend)(nil)

// NewPineconeBackend authenticates with apiKey. host is optional.
func NewPineconeBackend(apiKey, host string) (*PineconeBackend, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	return &PineconeBackend{
		client: client,
		host:   host,
		hosts:  make(map[string]string),
	}, nil
}

// DescribeIndex lists indexes and returns the one named name, or nil.
func (b *PineconeBackend) DescribeIndex(ctx context.Context, name string) (*IndexInfo, error) {
	indexes, err := b.client.ListIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}

	for _, idx := range indexes {
		if idx == nil || idx.Name != name {
			continue
		}
		info := indexInfo(idx)
		if info.Host != "" {
			b.mu.Lock()
			b.hosts[name] = info.Host
			b.mu.Unlock()
		}
		return info, nil
	}
	return nil, nil
}

func indexInfo(idx *pinecone.Index) *IndexInfo {
	info := &IndexInfo{
		Name:   idx.Name,
		Host:   idx.Host,
		Metric: string(idx.Metric),
	}
	if idx.Dimension != nil {
		info.Dimension = int(*idx.Dimension)
	}
	if idx.Status != nil {
		info.Ready = idx.Status.Ready
	}
	if idx.Embed != nil {
		info.EmbedModel = idx.Embed.Model
	}
	return info
}

// CreateIndex creates a serverless index bound to an integrated embedding model.
func (b *PineconeBackend) CreateIndex(ctx context.Context, spec IndexSpec) error {
	req := &pinecone.CreateIndexForModelRequest{
		Name:   spec.Name,
		Cloud:  pinecone.Cloud(spec.Cloud),
		Region: spec.Region,
		Embed: pinecone.CreateIndexForModelEmbed{
			Model:    spec.EmbedModel,
			FieldMap: spec.FieldMap.ServiceFieldMap(),
		},
	}
	if spec.Metric != "" {
		metric := pinecone.IndexMetric(spec.Metric)
		req.Embed.Metric = &metric
	}

	idx, err := b.client.CreateIndexForModel(ctx, req)
	if err != nil {
		return err
	}
	if idx != nil && idx.Host != "" {
		b.mu.Lock()
		b.hosts[spec.Name] = idx.Host
		b.mu.Unlock()
	}
	return nil
}

// Upsert writes nested batches as vectors and flat batches as records the
// service embeds itself.
func (b *PineconeBackend) Upsert(ctx context.Context, target Target, batch Batch) error {
	conn, err := b.connect(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch batch.Shape {
	case ShapeFlat:
		if err := conn.UpsertRecords(ctx, integratedRecords(batch.Entries)); err != nil {
			return fmt.Errorf("failed to upsert records: %w", err)
		}

	default:
		vectors := make([]*pinecone.Vector, 0, len(batch.Entries))
		for _, e := range batch.Entries {
			md, err := toStruct(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to convert metadata for %s: %w", e.ID, err)
			}
			values := e.Values
			vectors = append(vectors, &pinecone.Vector{
				Id:       e.ID,
				Values:   &values,
				Metadata: md,
			})
		}
		count, err := conn.UpsertVectors(ctx, vectors)
		if err != nil {
			return fmt.Errorf("failed to upsert vectors: %w", err)
		}
		log.Debug("Upserted vectors", "namespace", target.Namespace, "count", count)
	}

	return nil
}

// Fetch returns the vectors stored under ids.
func (b *PineconeBackend) Fetch(ctx context.Context, target Target, ids []string) (map[string]QueryResult, error) {
	conn, err := b.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err := conn.FetchVectors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vectors: %w", err)
	}

	out := make(map[string]QueryResult, len(res.Vectors))
	for id, v := range res.Vectors {
		if v == nil {
			continue
		}
		out[id] = fromVector(v, 0)
	}
	return out, nil
}

// Query runs a nearest-neighbor query by vector values.
func (b *PineconeBackend) Query(ctx context.Context, target Target, q Query) ([]QueryResult, error) {
	conn, err := b.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          q.Vector,
		TopK:            uint32(queryTopK(q)),
		IncludeValues:   q.IncludeValues,
		IncludeMetadata: q.IncludeMetadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	out := make([]QueryResult, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		out = append(out, fromVector(m.Vector, m.Score))
	}
	return out, nil
}

// queryTopK clamps a query's TopK to what the service accepts.
func queryTopK(q Query) int {
	if (q.IncludeValues || q.IncludeMetadata) && q.TopK > maxTopKWithData {
		return maxTopKWithData
	}
	return q.TopK
}

// integratedRecords flattens entries into records keyed by "_id" so the
// index's bound model embeds the mapped text field.
func integratedRecords(entries []Entry) []*pinecone.IntegratedRecord {
	records := make([]*pinecone.IntegratedRecord, 0, len(entries))
	for _, e := range entries {
		rec := pinecone.IntegratedRecord{"_id": e.ID}
		for k, v := range e.Metadata {
			rec[k] = v
		}
		records = append(records, &rec)
	}
	return records
}

// connect opens a data-plane connection scoped to the target namespace.
func (b *PineconeBackend) connect(ctx context.Context, target Target) (*pinecone.IndexConnection, error) {
	host, err := b.hostFor(ctx, target.Index)
	if err != nil {
		return nil, err
	}

	conn, err := b.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: target.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index %s: %w", target.Index, err)
	}
	return conn, nil
}

func (b *PineconeBackend) hostFor(ctx context.Context, index string) (string, error) {
	if b.host != "" {
		return b.host, nil
	}

	b.mu.Lock()
	host, ok := b.hosts[index]
	b.mu.Unlock()
	if ok {
		return host, nil
	}

	idx, err := b.client.DescribeIndex(ctx, index)
	if err != nil {
		return "", fmt.Errorf("failed to describe index %s: %w", index, err)
	}

	b.mu.Lock()
	b.hosts[index] = idx.Host
	b.mu.Unlock()
	return idx.Host, nil
}

func fromVector(v *pinecone.Vector, score float32) QueryResult {
	r := QueryResult{ID: v.Id, Score: score}
	if v.Values != nil {
		r.Values = *v.Values
	}
	if v.Metadata != nil {
		r.Metadata = v.Metadata.AsMap()
	}
	return r.normalize()
}

// toStruct converts metadata to a protobuf struct. Slices of strings and
// numbers are widened to []any first since structpb only accepts that form.
func toStruct(md map[string]any) (*structpb.Struct, error) {
	if len(md) == 0 {
		return nil, nil
	}
	clean := make(map[string]any, len(md))
	for k, v := range md {
		clean[k] = protoValue(v)
	}
	return structpb.NewStruct(clean)
}

func protoValue(v any) any {
	switch val := v.(type) {
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []float32:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = float64(f)
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = f
		}
		return out
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
