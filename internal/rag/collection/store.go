// Package collection implements the named-collection knowledge store described
// by the RAG pipeline: collections are keyed by (name, project_id), chunks
// carry a collection_id, and queries are scoped to a single collection with
// an over-fetch-then-filter ANN search.
//
// The storage layer follows the pattern of
// internal/memory/backend/sqlitevec: a pure-Go modernc.org/sqlite-backed
// table, embeddings packed as raw float32 bytes, cosine similarity computed
// in Go rather than via a vector extension.
package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/cascadehq/engine/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Reranker optionally reorders query results. It must not add or remove
// entries, only change their order.
type Reranker interface {
	Rerank(ctx context.Context, results []*models.CollectionQueryResult) ([]*models.CollectionQueryResult, error)
}

// RerankFunc adapts a plain function to the Reranker interface.
type RerankFunc func(ctx context.Context, results []*models.CollectionQueryResult) ([]*models.CollectionQueryResult, error)

// Rerank calls f.
func (f RerankFunc) Rerank(ctx context.Context, results []*models.CollectionQueryResult) ([]*models.CollectionQueryResult, error) {
	return f(ctx, results)
}

// QueryResult is the store-level query outcome, before the caller attaches
// the collection name.
type QueryResult struct {
	Results       []*models.CollectionQueryResult
	TotalSearched int
}

// ErrNotFound is returned when a collection does not exist.
var ErrNotFound = errors.New("collection: not found")

// Store is a SQLite-backed store for named collections and their chunks.
type Store struct {
	db *sql.DB
}

// Config configures the collection store.
type Config struct {
	// Path is the SQLite database file path. Empty uses an in-memory database.
	Path string
}

// Open creates or opens the collection store's SQLite database, creating the
// schema described by the knowledge pipeline if it does not already exist.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open collection store: %w", err)
	}
	// The pure-Go driver does not support concurrent writers well; a single
	// connection keeps chunk_count bookkeeping free of interleaved writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_collections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_id TEXT NOT NULL,
			description TEXT,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(name, project_id)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection_id TEXT NOT NULL REFERENCES knowledge_collections(id),
			document_id TEXT,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			metadata TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_collection ON knowledge_chunks(collection_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init collection schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// collectionRow mirrors the knowledge_collections schema.
type collectionRow struct {
	ID          string
	Name        string
	ProjectID   string
	Description string
	ChunkCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GetOrCreate returns the collection identified by (name, project_id),
// creating it if it does not already exist. This is the only way to obtain
// a collection id.
func (s *Store) GetOrCreate(ctx context.Context, name, projectID, description string) (*collectionRow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	row, err := s.lookup(ctx, name, projectID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_collections (id, name, project_id, description, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, id, name, projectID, description, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		// Lost a create race: fall back to the row the winner inserted.
		if row, lookupErr := s.lookup(ctx, name, projectID); lookupErr == nil {
			return row, nil
		}
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &collectionRow{
		ID:          id,
		Name:        name,
		ProjectID:   projectID,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Store) lookup(ctx context.Context, name, projectID string) (*collectionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, project_id, description, chunk_count, created_at, updated_at
		FROM knowledge_collections WHERE name = ? AND project_id = ?
	`, name, projectID)
	return scanCollectionRow(row)
}

func scanCollectionRow(row *sql.Row) (*collectionRow, error) {
	var c collectionRow
	var description sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Name, &c.ProjectID, &description, &c.ChunkCount, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	c.Description = description.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// List returns every collection, optionally filtered by project id.
func (s *Store) List(ctx context.Context, projectID string) ([]*collectionRow, error) {
	query := `SELECT id, name, project_id, description, chunk_count, created_at, updated_at FROM knowledge_collections`
	args := []any{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []*collectionRow
	for rows.Next() {
		var c collectionRow
		var description sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.ProjectID, &description, &c.ChunkCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		c.Description = description.String
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// chunkInsert is a single chunk awaiting insertion.
type chunkInsert struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// AddChunks inserts chunks into a collection inside a single transaction,
// capturing each row-id, then recomputes chunk_count and updated_at. If any
// insert fails the transaction is rolled back and chunk_count is left
// unchanged from its persisted value.
func (s *Store) AddChunks(ctx context.Context, collectionID string, chunks []chunkInsert) ([]int64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingestion transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_chunks (collection_id, document_id, chunk_index, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rowIDs := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk metadata: %w", err)
		}

		res, err := stmt.ExecContext(ctx, collectionID, c.DocumentID, c.ChunkIndex, c.Content, encodeEmbedding(c.Embedding), string(metaJSON), now)
		if err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read chunk row id: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE knowledge_collections
		SET chunk_count = (SELECT COUNT(*) FROM knowledge_chunks WHERE collection_id = ?),
		    updated_at = ?
		WHERE id = ?
	`, collectionID, now, collectionID); err != nil {
		return nil, fmt.Errorf("update collection chunk count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingestion transaction: %w", err)
	}
	committed = true

	return rowIDs, nil
}

// annNeighbour is a candidate chunk returned by the ANN search step, before
// collection-scope filtering.
type annNeighbour struct {
	chunk *models.KnowledgeChunk
	score float32
}

// Search implements the query algorithm: embed the query (done by the
// caller), ANN-search 3*top_k neighbours across the whole chunk table,
// drop any whose collection_id doesn't match the target collection (cross
// collection ANN noise during the index's eventually-consistent window),
// convert cosine distance to score, optionally rerank, then truncate to
// top_k.
func (s *Store) Search(ctx context.Context, collectionID string, queryEmbedding []float32, topK int, rerank Reranker) (*QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	overFetch := topK * 3

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, document_id, chunk_index, content, embedding, metadata, created_at
		FROM knowledge_chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer rows.Close()

	var allScored []annNeighbour
	for rows.Next() {
		chunk, collID, embeddingBlob, err := scanChunkRow(rows)
		if err != nil {
			return nil, err
		}
		embedding := decodeEmbedding(embeddingBlob)
		distance := cosineDistance(queryEmbedding, embedding)
		allScored = append(allScored, annNeighbour{
			chunk: chunk,
			score: 1 - distance,
		})
		_ = collID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rank the full ANN candidate pool by score, then take the top 3*top_k
	// neighbours. This stands in for a real ANN index's ordered nearest
	// neighbour search.
	sort.Slice(allScored, func(i, j int) bool { return allScored[i].score > allScored[j].score })
	totalSearched := len(allScored)
	if len(allScored) > overFetch {
		allScored = allScored[:overFetch]
	}

	// Collection-scope filter: drop rows whose collection doesn't match.
	scoped := make([]*models.KnowledgeChunk, 0, len(allScored))
	scores := make([]float32, 0, len(allScored))
	for _, n := range allScored {
		if n.chunk.CollectionID != collectionID {
			continue
		}
		scoped = append(scoped, n.chunk)
		scores = append(scores, n.score)
	}

	results := make([]*models.CollectionQueryResult, len(scoped))
	for i, c := range scoped {
		results[i] = &models.CollectionQueryResult{Chunk: c, Score: scores[i]}
	}

	if rerank != nil {
		var err error
		results, err = rerank.Rerank(ctx, results)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	} else {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}

	if len(results) > topK {
		results = results[:topK]
	}

	return &QueryResult{Results: results, TotalSearched: totalSearched}, nil
}

// Delete removes a collection and all its chunks. It collects the chunk
// row-ids first so a caller-supplied ANN index can mark them stale before
// the cascading DB delete runs.
func (s *Store) Delete(ctx context.Context, name, projectID string) ([]int64, error) {
	row, err := s.lookup(ctx, name, projectID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM knowledge_chunks WHERE collection_id = ?`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("collect chunk ids: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		rowIDs = append(rowIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE collection_id = ?`, row.ID); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_collections WHERE id = ?`, row.ID); err != nil {
		return nil, fmt.Errorf("delete collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete transaction: %w", err)
	}
	committed = true

	return rowIDs, nil
}

func scanChunkRow(rows *sql.Rows) (*models.KnowledgeChunk, string, []byte, error) {
	var id int64
	var collectionID string
	var documentID sql.NullString
	var chunkIndex int
	var content string
	var embeddingBlob []byte
	var metadataJSON sql.NullString
	var createdAt string

	if err := rows.Scan(&id, &collectionID, &documentID, &chunkIndex, &content, &embeddingBlob, &metadataJSON, &createdAt); err != nil {
		return nil, "", nil, fmt.Errorf("scan chunk: %w", err)
	}

	chunk := &models.KnowledgeChunk{
		RowID:        id,
		CollectionID: collectionID,
		DocumentID:   documentID.String,
		ChunkIndex:   chunkIndex,
		Content:      content,
	}
	chunk.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata); err != nil {
			return nil, "", nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
	}

	return chunk, collectionID, embeddingBlob, nil
}

// encodeEmbedding packs a []float32 into raw IEEE-754 bytes.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

// decodeEmbedding unpacks raw IEEE-754 bytes back into a []float32.
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// cosineDistance returns 1 - cosine_similarity(a, b), so 0 means identical
// direction. Mismatched or empty vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - similarity)
}
