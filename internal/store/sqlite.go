package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// maxVecK bounds the k passed to vec0 when oversampling a filtered query.
const maxVecK = 4096

// SQLiteBackend emulates the vector service locally with SQLite and
// sqlite-vec. Flat records are embedded with the configured Embedder.
type SQLiteBackend struct {
	db       *sql.DB
	path     string
	embedder Embedder
	mu       sync.RWMutex
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (or creates) the database at dbPath. embedder may be
// nil when only pre-embedded records are stored.
func NewSQLiteBackend(dbPath string, embedder Embedder) (*SQLiteBackend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite vector backend", "path", dbPath)

	return &SQLiteBackend{db: db, path: dbPath, embedder: embedder}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// DescribeIndex returns the stored index definition, or nil.
func (b *SQLiteBackend) DescribeIndex(ctx context.Context, name string) (*IndexInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.describe(ctx, name)
}

func (b *SQLiteBackend) describe(ctx context.Context, name string) (*IndexInfo, error) {
	info := IndexInfo{Host: b.path, Ready: true}
	err := b.db.QueryRowContext(ctx, `
		SELECT name, dimension, metric, embed_model FROM indexes WHERE name = ?
	`, name).Scan(&info.Name, &info.Dimension, &info.Metric, &info.EmbedModel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe index: %w", err)
	}
	return &info, nil
}

// CreateIndex records the index and makes sure a vector table of its
// dimension exists. Without an explicit dimension the embedder's is used.
func (b *SQLiteBackend) CreateIndex(ctx context.Context, spec IndexSpec) error {
	dim := spec.Dimension
	if dim == 0 && b.embedder != nil {
		dim = b.embedder.Dimensions()
	}
	if dim <= 0 {
		return fmt.Errorf("index %q needs a dimension", spec.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ensureVectorTable(b.db, dim); err != nil {
		return fmt.Errorf("failed to ensure vector table: %w", err)
	}

	metric := spec.Metric
	if metric == "" {
		metric = DefaultMetric
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO indexes (name, dimension, metric, embed_model, text_field, cloud, region, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, spec.Name, dim, metric, spec.EmbedModel, spec.FieldMap.Text(), spec.Cloud, spec.Region,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Upsert inserts or replaces every entry of batch in one transaction.
func (b *SQLiteBackend) Upsert(ctx context.Context, target Target, batch Batch) error {
	info, err := b.DescribeIndex(ctx, target.Index)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("index %q not found", target.Index)
	}

	vectors, err := b.batchVectors(ctx, batch)
	if err != nil {
		return err
	}
	for i, v := range vectors {
		if len(v) != info.Dimension {
			return fmt.Errorf("vector for %s has %d dimensions, index has %d",
				batch.Entries[i].ID, len(v), info.Dimension)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	table := vectorTableName(info.Dimension)
	now := time.Now().UTC().Format(time.RFC3339)

	for i, e := range batch.Entries {
		md, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", e.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (index_name, namespace, external_id, metadata, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(index_name, namespace, external_id)
			DO UPDATE SET metadata = excluded.metadata, updated_at = excluded.updated_at
		`, target.Index, target.Namespace, e.ID, string(md), now)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", e.ID, err)
		}

		var recordID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM records WHERE index_name = ? AND namespace = ? AND external_id = ?
		`, target.Index, target.Namespace, e.ID).Scan(&recordID)
		if err != nil {
			return fmt.Errorf("failed to resolve record %s: %w", e.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE record_id = ?", recordID); err != nil {
			return fmt.Errorf("failed to delete old vector for %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (record_id, embedding) VALUES (?, ?)",
			recordID, serializeEmbedding(vectors[i]),
		); err != nil {
			return fmt.Errorf("failed to insert vector for %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// batchVectors returns one vector per entry, embedding flat entries' text.
func (b *SQLiteBackend) batchVectors(ctx context.Context, batch Batch) ([][]float32, error) {
	if batch.Shape != ShapeFlat {
		vectors := make([][]float32, len(batch.Entries))
		for i, e := range batch.Entries {
			vectors[i] = e.Values
		}
		return vectors, nil
	}

	if b.embedder == nil {
		return nil, fmt.Errorf("flat records need an embedding service")
	}

	texts := make([]string, len(batch.Entries))
	for i, e := range batch.Entries {
		texts[i] = e.Text
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed records: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d != %d", len(vectors), len(texts))
	}
	return vectors, nil
}

// Fetch returns the records stored under ids in the target namespace.
func (b *SQLiteBackend) Fetch(ctx context.Context, target Target, ids []string) (map[string]QueryResult, error) {
	out := make(map[string]QueryResult)
	if len(ids) == 0 {
		return out, nil
	}

	info, err := b.DescribeIndex(ctx, target.Index)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("index %q not found", target.Index)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	args := []any{target.Index, target.Namespace}
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, external_id, metadata FROM records
		WHERE index_name = ? AND namespace = ? AND external_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	results, rowIDs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	for i := range results {
		values, err := b.loadValues(ctx, info.Dimension, rowIDs[i])
		if err != nil {
			return nil, err
		}
		results[i].Values = values
		out[results[i].ID] = results[i].normalize()
	}
	return out, nil
}

// Query ranks records by cosine similarity to q.Vector. A zero vector has no
// direction, so it lists records ordered by id instead.
func (b *SQLiteBackend) Query(ctx context.Context, target Target, q Query) ([]QueryResult, error) {
	info, err := b.DescribeIndex(ctx, target.Index)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("index %q not found", target.Index)
	}
	if len(q.Vector) != info.Dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(q.Vector), info.Dimension)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		results []QueryResult
		rowIDs  []int64
	)

	if isZeroVector(q.Vector) {
		rows, err := b.db.QueryContext(ctx, `
			SELECT id, external_id, metadata FROM records
			WHERE index_name = ? AND namespace = ?
			ORDER BY external_id
			LIMIT ?
		`, target.Index, target.Namespace, topK)
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		results, rowIDs, err = scanRecords(rows)
		if err != nil {
			return nil, err
		}
	} else {
		table := vectorTableName(info.Dimension)
		vec := serializeEmbedding(q.Vector)

		results, rowIDs, err = b.nearest(ctx, table, target, vec, topK)
		if err != nil {
			return nil, err
		}

		// Other namespaces of the same dimension share the vec0 table and can
		// fill the kNN window. Rank the namespace exactly when it came back short.
		if len(results) < topK {
			total, err := b.countRecords(ctx, target)
			if err != nil {
				return nil, err
			}
			if total > len(results) {
				log.Debug("kNN window short, scanning namespace", "namespace", target.Namespace,
					"found", len(results), "records", total)
				results, rowIDs, err = b.scanNearest(ctx, table, target, vec, topK)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	for i := range results {
		if q.IncludeValues {
			values, err := b.loadValues(ctx, info.Dimension, rowIDs[i])
			if err != nil {
				return nil, err
			}
			results[i].Values = values
		}
		if !q.IncludeMetadata {
			results[i].Metadata = nil
		}
		results[i] = results[i].normalize()
	}
	return results, nil
}

// nearest runs a vec0 kNN query and keeps the rows of target. vec0 applies
// the namespace filter after picking k rows, so k is oversampled.
func (b *SQLiteBackend) nearest(ctx context.Context, table string, target Target, vec []byte, topK int) ([]QueryResult, []int64, error) {
	kForVec := topK * 10
	if kForVec > maxVecK {
		kForVec = maxVecK
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT r.id, r.external_id, r.metadata, v.distance
		FROM `+table+` v
		JOIN records r ON r.id = v.record_id
		WHERE r.index_name = ?
			AND r.namespace = ?
			AND v.embedding MATCH ?
			AND k = ?
		ORDER BY v.distance ASC
		LIMIT ?
	`, target.Index, target.Namespace, vec, kForVec, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to search: %w", err)
	}
	return scanMatches(rows)
}

// scanNearest ranks every record of target by exact cosine distance.
func (b *SQLiteBackend) scanNearest(ctx context.Context, table string, target Target, vec []byte, topK int) ([]QueryResult, []int64, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT r.id, r.external_id, r.metadata, vec_distance_cosine(v.embedding, ?) AS distance
		FROM records r
		JOIN `+table+` v ON v.record_id = r.id
		WHERE r.index_name = ? AND r.namespace = ?
		ORDER BY distance ASC
		LIMIT ?
	`, vec, target.Index, target.Namespace, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan namespace: %w", err)
	}
	return scanMatches(rows)
}

func (b *SQLiteBackend) countRecords(ctx context.Context, target Target) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE index_name = ? AND namespace = ?
	`, target.Index, target.Namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func scanMatches(rows *sql.Rows) ([]QueryResult, []int64, error) {
	defer rows.Close()

	var (
		results []QueryResult
		rowIDs  []int64
	)
	for rows.Next() {
		var (
			r        QueryResult
			rowID    int64
			metadata string
			distance float64
		)
		if err := rows.Scan(&rowID, &r.ID, &metadata, &distance); err != nil {
			return nil, nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to decode metadata for %s: %w", r.ID, err)
		}
		r.Score = float32(1 - distance)
		results = append(results, r)
		rowIDs = append(rowIDs, rowID)
	}
	return results, rowIDs, rows.Err()
}

func (b *SQLiteBackend) loadValues(ctx context.Context, dimensions int, recordID int64) ([]float32, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT embedding FROM "+vectorTableName(dimensions)+" WHERE record_id = ?", recordID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vector: %w", err)
	}
	return deserializeEmbedding(blob), nil
}

func scanRecords(rows *sql.Rows) ([]QueryResult, []int64, error) {
	defer rows.Close()

	var (
		results []QueryResult
		rowIDs  []int64
	)
	for rows.Next() {
		var (
			r        QueryResult
			rowID    int64
			metadata string
		)
		if err := rows.Scan(&rowID, &r.ID, &metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to decode metadata for %s: %w", r.ID, err)
		}
		results = append(results, r)
		rowIDs = append(rowIDs, rowID)
	}
	return results, rowIDs, rows.Err()
}

func isZeroVector(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
