package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/cascadehq/engine/internal/memory/embeddings"
	"github.com/cascadehq/engine/pkg/models"
)

// Manager coordinates ingestion and querying against a collection Store,
// applying the pipeline described for the knowledge collection system:
// paragraph chunking, batch embedding through the configured provider, and
// the ANN over-fetch/filter/score/rerank/truncate query algorithm.
type Manager struct {
	store    *Store
	embedder embeddings.Provider
	config   ManagerConfig
}

// ManagerConfig configures the manager's ingestion chunker and default query size.
// Named distinctly from Store's Config, which only configures the database path.
type ManagerConfig struct {
	// ChunkTargetSize is the target chunk size in characters.
	// Default: 500
	ChunkTargetSize int

	// ChunkMaxSize is the hard cap on a single chunk's length.
	// Default: 2 * ChunkTargetSize
	ChunkMaxSize int

	// DefaultTopK is used when a query doesn't specify top_k.
	// Default: 10
	DefaultTopK int
}

// DefaultManagerConfig returns the manager's default chunking and query configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ChunkTargetSize: 500,
		ChunkMaxSize:    1000,
		DefaultTopK:     10,
	}
}

// NewManager creates a collection manager over the given store and embedding provider.
func NewManager(store *Store, embedder embeddings.Provider, cfg ManagerConfig) *Manager {
	if cfg.ChunkTargetSize <= 0 {
		cfg = DefaultManagerConfig()
	}
	return &Manager{store: store, embedder: embedder, config: cfg}
}

// GetOrCreateCollection returns the collection for (name, project_id), creating it if absent.
func (m *Manager) GetOrCreateCollection(ctx context.Context, name, projectID, description string) (*models.Collection, error) {
	row, err := m.store.GetOrCreate(ctx, name, projectID, description)
	if err != nil {
		return nil, err
	}
	return toModel(row), nil
}

// ListCollections lists collections, optionally scoped to a project.
func (m *Manager) ListCollections(ctx context.Context, projectID string) ([]*models.Collection, error) {
	rows, err := m.store.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Collection, len(rows))
	for i, r := range rows {
		out[i] = toModel(r)
	}
	return out, nil
}

func toModel(row *collectionRow) *models.Collection {
	return &models.Collection{
		ID:          row.ID,
		Name:        row.Name,
		ProjectID:   row.ProjectID,
		Description: row.Description,
		ChunkCount:  row.ChunkCount,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

// IngestResult summarizes an ingestion call.
type IngestResult struct {
	Collection *models.Collection
	ChunkCount int
	RowIDs     []int64
}

// Ingest chunks text on blank-line boundaries, batch-embeds the chunks
// through the configured embedding provider, and inserts them into the
// named collection (creating it if absent). Any embedding or storage
// failure propagates without partially mutating the collection: ingestion
// chunks and embeds before opening the insertion transaction, so a failure
// there never touches the DB at all, and the transaction itself is atomic.
func (m *Manager) Ingest(ctx context.Context, collectionName, projectID, documentID, text string) (*IngestResult, error) {
	col, err := m.store.GetOrCreate(ctx, collectionName, projectID, "")
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}

	pieces := chunkParagraphs(text, m.config.ChunkTargetSize, m.config.ChunkMaxSize)
	if len(pieces) == 0 {
		return &IngestResult{Collection: toModel(col)}, nil
	}

	embeddingVectors, err := m.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddingVectors) != len(pieces) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(embeddingVectors), len(pieces))
	}

	inserts := make([]chunkInsert, len(pieces))
	for i, p := range pieces {
		inserts[i] = chunkInsert{
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    p,
			Embedding:  embeddingVectors[i],
		}
	}

	rowIDs, err := m.store.AddChunks(ctx, col.ID, inserts)
	if err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}

	col.ChunkCount += len(rowIDs)
	col.UpdatedAt = time.Now().UTC()

	return &IngestResult{
		Collection: toModel(col),
		ChunkCount: len(rowIDs),
		RowIDs:     rowIDs,
	}, nil
}

// Query embeds the query text and runs the scoped ANN search against the
// named collection, returning {results, total_searched, collection_name}.
func (m *Manager) Query(ctx context.Context, collectionName, projectID, query string, topK int, rerank Reranker) (*models.CollectionQueryResponse, error) {
	col, err := m.store.GetOrCreate(ctx, collectionName, projectID, "")
	if err != nil {
		return nil, fmt.Errorf("resolve collection: %w", err)
	}

	if topK <= 0 {
		topK = m.config.DefaultTopK
	}

	queryEmbedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	result, err := m.store.Search(ctx, col.ID, queryEmbedding, topK, rerank)
	if err != nil {
		return nil, fmt.Errorf("search collection: %w", err)
	}

	return &models.CollectionQueryResponse{
		Results:        result.Results,
		TotalSearched:  result.TotalSearched,
		CollectionName: col.Name,
	}, nil
}

// DeleteCollection removes a collection and all its chunks.
func (m *Manager) DeleteCollection(ctx context.Context, name, projectID string) error {
	_, err := m.store.Delete(ctx, name, projectID)
	return err
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
