// Package pipeline turns a catalog of MI session videos into stored vectors:
// each video is summarized, optionally scored, and upserted in batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/mirag/internal/evaluate"
	"github.com/nickcecere/mirag/internal/store"
	"github.com/nickcecere/mirag/internal/summarize"
)

// Metadata roles written for every video. Each resolves to a field name
// through the store's field map; the summary goes under the text role.
const (
	RoleTitle         = "video_title"
	RoleURL           = "video_url"
	RoleTopic         = "topic"
	RoleQuality       = "mi_quality"
	RoleTranscriptID  = "transcript_id"
	RoleEvalScore     = "eval_score"
	RoleSummaryHash   = "summary_hash"
	RoleProcessedDate = "processed_date"
)

// ProcessedDateLayout formats processed_date.
const ProcessedDateLayout = "2006-01-02 15:04:05"

// Status is the outcome for one video.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusAlreadyExists Status = "already_exists"
	StatusFailed        Status = "failed"
	StatusStoreFailed   Status = "store_failed"
	StatusError         Status = "error"
)

// Summarizer produces a summary and embedding for one video.
type Summarizer interface {
	Process(ctx context.Context, title, videoURL string) (*summarize.Result, error)
}

// Store is the part of store.VectorIndexStore the pipeline writes through.
type Store interface {
	Lookup(ctx context.Context, opts store.RetrieveOptions) (map[string]store.QueryResult, error)
	Store(ctx context.Context, records []store.Record) (*store.StoreResult, error)
	Handle() store.IndexHandle
}

var _ Store = (*store.VectorIndexStore)(nil)

// Result is the report row for one video.
type Result struct {
	VideoID            string
	VideoURL           string
	VideoTitle         string
	Status             Status
	EmbeddingDimension int
	Error              string
	HasSummary         bool
	HasScore           bool
	Score              string
}

// Progress tracks a run.
type Progress struct {
	TotalVideos     int
	ProcessedVideos int
	SkippedVideos   int
	StoredVideos    int
	Errors          int
	StartTime       time.Time
	CurrentVideo    string
}

// ProgressFunc is called to report progress during a run.
type ProgressFunc func(Progress)

// Options configures a run.
type Options struct {
	// BatchSize is the number of records per upsert.
	BatchSize int

	// RateLimit is the pause after each upserted batch.
	RateLimit time.Duration

	// Force processes videos even when their id is already stored.
	Force bool

	// OnProgress is called to report progress.
	OnProgress ProgressFunc
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize: 5,
		RateLimit: 2 * time.Second,
	}
}

// Pipeline runs videos through summarizer, evaluator and store.
type Pipeline struct {
	summarizer Summarizer
	evaluator  evaluate.Evaluator
	store      Store
	fields     store.FieldMap

	now   func() time.Time
	pause func(context.Context, time.Duration) error

	progress Progress
	mu       sync.Mutex
}

// New creates a pipeline. evaluator may be nil to skip scoring.
func New(sum Summarizer, ev evaluate.Evaluator, st Store) *Pipeline {
	return &Pipeline{
		summarizer: sum,
		evaluator:  ev,
		store:      st,
		fields:     st.Handle().FieldMap,
		now:        time.Now,
		pause:      sleep,
	}
}

type pending struct {
	record store.Record
	row    int
}

// Run processes videos in order and returns one Result per video. A failed
// video or batch is recorded in its rows and the run continues; only context
// cancellation ends it early, returning the rows produced so far.
func (p *Pipeline) Run(ctx context.Context, videos []Video, opts Options) ([]Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	p.mu.Lock()
	p.progress = Progress{
		TotalVideos: len(videos),
		StartTime:   p.now(),
	}
	p.mu.Unlock()

	existing := map[string]store.QueryResult{}
	if !opts.Force {
		existing = p.existing(ctx, videos)
	}

	results := make([]Result, 0, len(videos))
	var batch []pending

	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		p.update(opts, func(pr *Progress) { pr.CurrentVideo = v.Title })

		res := Result{
			VideoID:    v.ID(),
			VideoURL:   v.URL,
			VideoTitle: v.Title,
		}

		if _, ok := existing[res.VideoID]; ok {
			log.Debug("Video already stored, skipping", "title", v.Title, "id", res.VideoID)
			res.Status = StatusAlreadyExists
			results = append(results, res)
			p.update(opts, func(pr *Progress) {
				pr.SkippedVideos++
				pr.ProcessedVideos++
			})
			continue
		}

		record, err := p.process(ctx, v, &res)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			log.Warn("Failed to process video", "title", v.Title, "error", err)
			res.Status = failureStatus(err)
			res.Error = err.Error()
			results = append(results, res)
			p.update(opts, func(pr *Progress) {
				pr.Errors++
				pr.ProcessedVideos++
			})
			continue
		}

		results = append(results, res)
		batch = append(batch, pending{record: record, row: len(results) - 1})
		p.update(opts, func(pr *Progress) { pr.ProcessedVideos++ })

		if len(batch) >= opts.BatchSize {
			p.flush(ctx, batch, results, opts)
			batch = nil

			if err := p.pause(ctx, opts.RateLimit); err != nil {
				return results, err
			}
		}
	}

	if len(batch) > 0 {
		p.flush(ctx, batch, results, opts)
	}

	p.mu.Lock()
	pr := p.progress
	p.mu.Unlock()
	log.Info("Pipeline complete",
		"videos", pr.TotalVideos,
		"stored", pr.StoredVideos,
		"skipped", pr.SkippedVideos,
		"errors", pr.Errors,
		"duration", p.now().Sub(pr.StartTime).Round(time.Millisecond),
	)

	return results, nil
}

// existing returns the videos already present in the bound index. A lookup
// failure is logged and treated as nothing stored.
func (p *Pipeline) existing(ctx context.Context, videos []Video) map[string]store.QueryResult {
	if len(videos) == 0 {
		return map[string]store.QueryResult{}
	}

	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID()
	}

	found, err := p.store.Lookup(ctx, store.RetrieveOptions{IDs: ids})
	if err != nil {
		log.Warn("Failed to check for stored videos, processing all", "error", err)
		return map[string]store.QueryResult{}
	}
	if len(found) > 0 {
		log.Info("Found stored videos", "count", len(found))
	}
	return found
}

// process summarizes and scores one video and builds its record.
func (p *Pipeline) process(ctx context.Context, v Video, res *Result) (store.Record, error) {
	log.Info("Processing video", "title", v.Title)

	data, err := p.summarizer.Process(ctx, v.Title, v.URL)
	if err != nil {
		return nil, err
	}
	if data == nil || data.Summary == "" || len(data.Embedding) == 0 {
		return nil, errNoVideoData
	}

	res.HasSummary = true
	res.EmbeddingDimension = len(data.Embedding)

	var score *evaluate.Score
	if p.evaluator != nil {
		s, err := evaluate.ScoreSummary(ctx, p.evaluator, data.Summary)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("Failed to score summary", "title", v.Title, "error", err)
		default:
			score = &s
			res.HasScore = true
			res.Score = s.String()
		}
	}

	return p.record(v, data, score), nil
}

func (p *Pipeline) record(v Video, data *summarize.Result, score *evaluate.Score) store.Record {
	f := p.fields.Field

	metadata := map[string]any{
		p.fields.Text():      data.Summary,
		f(RoleTitle):         v.Title,
		f(RoleURL):           v.URL,
		f(RoleTopic):         v.Topic,
		f(RoleQuality):       v.Quality,
		f(RoleTranscriptID):  v.TranscriptID,
		f(RoleSummaryHash):   SummaryHash(data.Summary),
		f(RoleProcessedDate): p.now().Format(ProcessedDateLayout),
	}
	if score != nil {
		metadata[f(RoleEvalScore)] = score.MetadataValue()
	}

	return store.Record{
		p.fields.ID(): v.ID(),
		"values":      data.Embedding,
		"metadata":    metadata,
	}
}

// flush upserts one batch and records its outcome in results.
func (p *Pipeline) flush(ctx context.Context, batch []pending, results []Result, opts Options) {
	records := make([]store.Record, len(batch))
	for i, b := range batch {
		records[i] = b.record
	}

	out, err := p.store.Store(ctx, records)
	if err != nil {
		log.Error("Failed to store batch", "size", len(batch), "error", err)
		for _, b := range batch {
			results[b.row].Status = StatusStoreFailed
			results[b.row].Error = err.Error()
		}
		p.update(opts, func(pr *Progress) { pr.Errors += len(batch) })
		return
	}

	rejected := make(map[int]error, len(out.Rejected))
	for _, r := range out.Rejected {
		rejected[r.Index] = r.Reason
	}

	stored := 0
	for i, b := range batch {
		if reason, ok := rejected[i]; ok {
			results[b.row].Status = StatusStoreFailed
			results[b.row].Error = reason.Error()
			continue
		}
		results[b.row].Status = StatusSuccess
		stored++
	}

	log.Info("Stored batch", "stored", stored, "rejected", len(rejected))
	p.update(opts, func(pr *Progress) {
		pr.StoredVideos += stored
		pr.Errors += len(rejected)
	})
}

// Progress returns the current run progress.
func (p *Pipeline) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *Pipeline) update(opts Options, fn func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.progress)
	if opts.OnProgress != nil {
		opts.OnProgress(p.progress)
	}
}

var errNoVideoData = errors.New("summarizer returned no summary or embedding")

// failureStatus separates videos the service could not process from
// unexpected errors.
func failureStatus(err error) Status {
	switch {
	case errors.Is(err, errNoVideoData),
		errors.Is(err, summarize.ErrTaskFailed),
		errors.Is(err, summarize.ErrTaskTimeout),
		errors.Is(err, summarize.ErrNoEmbedding):
		return StatusFailed
	default:
		return StatusError
	}
}

// SummaryHash returns the xxh64 digest of a summary, prefixed with the
// algorithm.
func SummaryHash(summary string) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64String(summary))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
