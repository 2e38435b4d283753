package models

import "time"

// Collection is a named, project-scoped group of knowledge chunks.
// Unlike the flat document store, a Collection is the unit of isolation
// for the knowledge base: a chunk always belongs to exactly one
// collection, and queries are scoped to a single collection.
type Collection struct {
	// ID is the unique identifier for the collection.
	ID string `json:"id"`

	// Name is the collection's name. Unique together with ProjectID.
	Name string `json:"name"`

	// ProjectID scopes the collection to a project. Unique together with Name.
	ProjectID string `json:"project_id"`

	// Description is a human-readable summary of the collection's contents.
	Description string `json:"description,omitempty"`

	// ChunkCount is the number of chunks currently stored in the collection.
	ChunkCount int `json:"chunk_count"`

	// CreatedAt is when the collection was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the collection's chunk set was last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// KnowledgeChunk is a single chunk of text stored within a Collection.
type KnowledgeChunk struct {
	// RowID is the storage row identifier; it doubles as the ANN index key.
	RowID int64 `json:"row_id"`

	// CollectionID links the chunk to its owning collection.
	CollectionID string `json:"collection_id"`

	// DocumentID groups chunks that came from the same ingested document.
	DocumentID string `json:"document_id"`

	// ChunkIndex is the position of this chunk within its document (0-based).
	ChunkIndex int `json:"chunk_index"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Metadata carries arbitrary caller-supplied annotations.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the chunk was inserted.
	CreatedAt time.Time `json:"created_at"`
}

// CollectionQueryResult is a single scored chunk returned from a collection query.
type CollectionQueryResult struct {
	Chunk *KnowledgeChunk `json:"chunk"`
	Score float32         `json:"score"`
}

// CollectionQueryResponse is the result of querying a collection.
type CollectionQueryResponse struct {
	// Results are the matching chunks ordered by descending score.
	Results []*CollectionQueryResult `json:"results"`

	// TotalSearched is the number of ANN neighbours examined before
	// collection-scope filtering and truncation to top_k.
	TotalSearched int `json:"total_searched"`

	// CollectionName is the name of the collection that was searched.
	CollectionName string `json:"collection_name"`
}
