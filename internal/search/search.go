// Package search provides semantic search over stored video summaries.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/mirag/internal/embeddings"
	"github.com/nickcecere/mirag/internal/pipeline"
	"github.com/nickcecere/mirag/internal/store"
)

// Index is the part of store.VectorIndexStore the searcher reads from.
type Index interface {
	Similar(ctx context.Context, vector []float32, topK int) ([]store.QueryResult, error)
	Handle() store.IndexHandle
	Dimension() int
}

var _ Index = (*store.VectorIndexStore)(nil)

// Searcher provides semantic search over an index of video summaries.
type Searcher struct {
	index    Index
	embedder embeddings.Service
}

// Result represents one matching video.
type Result struct {
	VideoID   string `json:"video_id"`
	Title     string `json:"video_title,omitempty"`
	URL       string `json:"video_url,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Quality   string `json:"mi_quality,omitempty"`
	Summary   string `json:"summary,omitempty"`
	EvalScore string `json:"eval_score,omitempty"`

	// Score is the similarity to the query, higher is better.
	Score float64 `json:"score"`
}

// SearchOptions configures the search.
type SearchOptions struct {
	// TopK is the maximum number of results to return.
	TopK int

	// MinScore filters results below this similarity score.
	MinScore float64

	// Topic keeps only results whose topic matches, ignoring case.
	Topic string

	// IncludeSummary includes the summary text in results.
	IncludeSummary bool
}

// DefaultSearchOptions returns sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:           10,
		IncludeSummary: true,
	}
}

// New creates a new Searcher.
func New(idx Index, emb embeddings.Service) *Searcher {
	return &Searcher{
		index:    idx,
		embedder: emb,
	}
}

// Search embeds query and returns the most similar videos.
func (s *Searcher) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	log.Debug("Generating query embedding", "query", truncate(query, 50))
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := embeddings.CheckDimensions(vec, s.index.Dimension()); err != nil {
		return nil, err
	}

	return s.SearchVector(ctx, vec, opts)
}

// SearchVector returns the videos most similar to vec.
func (s *Searcher) SearchVector(ctx context.Context, vec []float32, opts SearchOptions) ([]Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	fields := s.index.Handle().FieldMap

	log.Debug("Searching index", "index", s.index.Handle().Name, "topK", topK)
	matches, err := s.index.Similar(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var results []Result
	for _, m := range matches {
		if float64(m.Score) < opts.MinScore {
			continue
		}

		r := toResult(m, fields)
		if opts.Topic != "" && !strings.EqualFold(r.Topic, opts.Topic) {
			continue
		}
		if !opts.IncludeSummary {
			r.Summary = ""
		}
		results = append(results, r)
	}

	sortByScore(results)

	log.Debug("Search complete", "results", len(results))
	return results, nil
}

// toResult maps stored metadata back through the field map.
func toResult(m store.QueryResult, fields store.FieldMap) Result {
	get := func(role string) string {
		return metadataString(m.Metadata[fields.Field(role)])
	}

	return Result{
		VideoID:   m.ID,
		Title:     get(pipeline.RoleTitle),
		URL:       get(pipeline.RoleURL),
		Topic:     get(pipeline.RoleTopic),
		Quality:   get(pipeline.RoleQuality),
		Summary:   get(store.RoleText),
		EvalScore: get(pipeline.RoleEvalScore),
		Score:     float64(m.Score),
	}
}

func metadataString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// sortByScore sorts results by score in descending order.
func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
