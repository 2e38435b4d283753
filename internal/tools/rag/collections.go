package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cascadehq/engine/internal/agent"
	"github.com/cascadehq/engine/internal/rag/collection"
)

// resolveProjectID returns the caller-supplied project id, falling back to
// the active session's agent id so collections are scoped per-agent by
// default when no explicit project is given.
func resolveProjectID(ctx context.Context, projectID string) string {
	projectID = strings.TrimSpace(projectID)
	if projectID != "" {
		return projectID
	}
	if session := agent.SessionFromContext(ctx); session != nil {
		return session.AgentID
	}
	return ""
}

// CollectionIngestTool implements agent.Tool for adding text to a named
// knowledge collection, chunking and embedding it for later retrieval.
type CollectionIngestTool struct {
	manager *collection.Manager
}

// NewCollectionIngestTool creates a new collection ingest tool.
func NewCollectionIngestTool(manager *collection.Manager) *CollectionIngestTool {
	return &CollectionIngestTool{manager: manager}
}

// Name returns the tool name.
func (t *CollectionIngestTool) Name() string {
	return "collection_ingest"
}

// Description returns the tool description.
func (t *CollectionIngestTool) Description() string {
	return "Adds text to a named knowledge collection, creating the collection if it does not already exist. Use this to build up a reusable, scoped knowledge base distinct from the general document store."
}

// Schema returns the JSON schema for tool parameters.
func (t *CollectionIngestTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "collection": {
      "type": "string",
      "description": "Name of the collection to add this content to"
    },
    "content": {
      "type": "string",
      "description": "The text content to ingest"
    },
    "document_id": {
      "type": "string",
      "description": "Identifier for the source document (default: a generated id)"
    },
    "project_id": {
      "type": "string",
      "description": "Project scope for the collection (default: current agent id)"
    }
  },
  "required": ["collection", "content"]
}`)
}

type collectionIngestInput struct {
	Collection string `json:"collection"`
	Content    string `json:"content"`
	DocumentID string `json:"document_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
}

// Execute runs the collection ingest.
func (t *CollectionIngestTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input collectionIngestInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}

	name := strings.TrimSpace(input.Collection)
	if name == "" {
		return &agent.ToolResult{Content: "collection is required", IsError: true}, nil
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return &agent.ToolResult{Content: "content is required", IsError: true}, nil
	}

	projectID := resolveProjectID(ctx, input.ProjectID)
	if projectID == "" {
		return &agent.ToolResult{Content: "project_id is required or must be resolvable from the active session", IsError: true}, nil
	}

	docID := strings.TrimSpace(input.DocumentID)
	if docID == "" {
		docID = fmt.Sprintf("%s-%d", name, len(content))
	}

	result, err := t.manager.Ingest(ctx, name, projectID, docID, content)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Ingest failed: %v", err), IsError: true}, nil
	}

	outputJSON, err := json.MarshalIndent(struct {
		Collection string `json:"collection"`
		ChunkCount int    `json:"chunks_added"`
		Total      int    `json:"total_chunks"`
	}{
		Collection: name,
		ChunkCount: result.ChunkCount,
		Total:      result.Collection.ChunkCount,
	}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format result: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(outputJSON)}, nil
}

// CollectionSearchTool implements agent.Tool for querying a named knowledge
// collection with semantic search, scoped to a single collection.
type CollectionSearchTool struct {
	manager *collection.Manager
}

// NewCollectionSearchTool creates a new collection search tool.
func NewCollectionSearchTool(manager *collection.Manager) *CollectionSearchTool {
	return &CollectionSearchTool{manager: manager}
}

// Name returns the tool name.
func (t *CollectionSearchTool) Name() string {
	return "collection_search"
}

// Description returns the tool description.
func (t *CollectionSearchTool) Description() string {
	return "Searches a named knowledge collection for relevant chunks using semantic similarity, scoped so results never leak across collections."
}

// Schema returns the JSON schema for tool parameters.
func (t *CollectionSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "collection": {
      "type": "string",
      "description": "Name of the collection to search"
    },
    "query": {
      "type": "string",
      "description": "The search query"
    },
    "top_k": {
      "type": "integer",
      "description": "Maximum number of results to return (default: 10)"
    },
    "project_id": {
      "type": "string",
      "description": "Project scope for the collection (default: current agent id)"
    }
  },
  "required": ["collection", "query"]
}`)
}

type collectionSearchInput struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	TopK       int    `json:"top_k,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
}

type collectionSearchOutput struct {
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// Execute runs the collection search.
func (t *CollectionSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input collectionSearchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}

	name := strings.TrimSpace(input.Collection)
	if name == "" {
		return &agent.ToolResult{Content: "collection is required", IsError: true}, nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}

	projectID := resolveProjectID(ctx, input.ProjectID)
	if projectID == "" {
		return &agent.ToolResult{Content: "project_id is required or must be resolvable from the active session", IsError: true}, nil
	}

	resp, err := t.manager.Query(ctx, name, projectID, query, input.TopK, nil)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Search failed: %v", err), IsError: true}, nil
	}

	if len(resp.Results) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("No results found in collection %q for query: %q", name, query)}, nil
	}

	results := make([]collectionSearchOutput, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || r.Chunk == nil {
			continue
		}
		results = append(results, collectionSearchOutput{Content: r.Chunk.Content, Score: r.Score})
	}

	outputJSON, err := json.MarshalIndent(struct {
		Collection    string                   `json:"collection"`
		TotalSearched int                      `json:"total_searched"`
		Results       []collectionSearchOutput `json:"results"`
	}{
		Collection:    resp.CollectionName,
		TotalSearched: resp.TotalSearched,
		Results:       results,
	}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format results: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(outputJSON)}, nil
}
