package store

import (
	"testing"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestNewPineconeBackendRequiresKey(t *testing.T) {
	b, err := NewPineconeBackend("", "")
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestToStruct(t *testing.T) {
	md, err := toStruct(map[string]any{
		"chunk_text": "summary",
		"eval_score": 8.5,
		"tags":       []string{"empathy", "reflection"},
		"flags":      []float32{1, 2},
		"nested":     map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	got := md.AsMap()
	assert.Equal(t, "summary", got["chunk_text"])
	assert.Equal(t, 8.5, got["eval_score"])
	assert.Equal(t, []any{"empathy", "reflection"}, got["tags"])
	assert.Equal(t, []any{1.0, 2.0}, got["flags"])
	assert.Equal(t, map[string]any{"k": "v"}, got["nested"])

	empty, err := toStruct(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestFromVector(t *testing.T) {
	md, err := structpb.NewStruct(map[string]any{"chunk_text": "hello"})
	require.NoError(t, err)

	values := []float32{0.1, 0.2}
	r := fromVector(&pinecone.Vector{Id: "a", Values: &values, Metadata: md}, 0.75)
	assert.Equal(t, "a", r.ID)
	assert.Equal(t, values, r.Values)
	assert.Equal(t, "hello", r.Metadata["chunk_text"])
	assert.Equal(t, float32(0.75), r.Score)

	bare := fromVector(&pinecone.Vector{Id: "b"}, 0)
	assert.Equal(t, []float32{}, bare.Values)
	assert.Equal(t, map[string]any{}, bare.Metadata)
}

func TestIndexInfo(t *testing.T) {
	dim := int32(1024)
	info := indexInfo(&pinecone.Index{
		Name:      "motivational-interviewing-index",
		Host:      "mi-index.svc.pinecone.io",
		Dimension: &dim,
		Metric:    pinecone.Cosine,
		Status:    &pinecone.IndexStatus{Ready: true},
		Embed:     &pinecone.IndexEmbed{Model: "llama-text-embed-v2"},
	})

	assert.Equal(t, 1024, info.Dimension)
	assert.Equal(t, "cosine", info.Metric)
	assert.True(t, info.Ready)
	assert.Equal(t, "llama-text-embed-v2", info.EmbedModel)
	assert.Equal(t, "mi-index.svc.pinecone.io", info.Host)
}

func TestIntegratedRecords(t *testing.T) {
	records := integratedRecords([]Entry{
		{ID: "v1", Metadata: map[string]any{"chunk_text": "summary", "topic": "empathy"}},
		{ID: "v2"},
	})
	require.Len(t, records, 2)

	first := *records[0]
	assert.Equal(t, "v1", first["_id"])
	assert.Equal(t, "summary", first["chunk_text"])
	assert.Equal(t, "empathy", first["topic"])
	assert.Equal(t, pinecone.IntegratedRecord{"_id": "v2"}, *records[1])
}

func TestQueryTopK(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"listing with metadata", Query{TopK: DefaultRetrieveLimit, IncludeMetadata: true}, maxTopKWithData},
		{"listing with values", Query{TopK: DefaultRetrieveLimit, IncludeValues: true}, maxTopKWithData},
		{"ids only", Query{TopK: DefaultRetrieveLimit}, DefaultRetrieveLimit},
		{"under ceiling", Query{TopK: 25, IncludeValues: true, IncludeMetadata: true}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queryTopK(tt.q))
		})
	}
}
