// Package embeddings provides interfaces and implementations for embedding providers.
package embeddings

import (
	"context"
)

// Provider defines the interface for embedding providers. Embed/EmbedBatch
// correspond to embed_query/embed_documents; Name is kept for backward
// compatibility with existing callers and mirrors ProviderType.
type Provider interface {
	// Embed generates an embedding for a single text (embed_query).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (embed_documents).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per batch.
	MaxBatchSize() int

	// HealthCheck verifies the provider is reachable and configured
	// correctly, without requiring a full embedding round-trip.
	HealthCheck(ctx context.Context) error

	// IsLocal reports whether this provider runs without a network call,
	// used by the manager to decide whether a fallback still needs rate
	// limiting / circuit breaking.
	IsLocal() bool

	// ProviderType is a stable machine identifier (e.g. "openai", "tfidf").
	ProviderType() string

	// DisplayName is a human-readable label for logs and UI surfaces.
	DisplayName() string
}

// Config contains common configuration for embedding providers.
type Config struct {
	Provider string `yaml:"provider"` // openai, gemini, ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	// Ollama-specific
	OllamaURL string `yaml:"ollama_url"`

	// Gemini-specific
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`
}
