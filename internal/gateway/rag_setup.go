package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cascadehq/engine/internal/config"
	"github.com/cascadehq/engine/internal/memory/embeddings"
	"github.com/cascadehq/engine/internal/memory/embeddings/local"
	"github.com/cascadehq/engine/internal/memory/embeddings/ollama"
	"github.com/cascadehq/engine/internal/memory/embeddings/openai"
	ragcollection "github.com/cascadehq/engine/internal/rag/collection"
	ragcontext "github.com/cascadehq/engine/internal/rag/context"
	ragindex "github.com/cascadehq/engine/internal/rag/index"
	ragpgvector "github.com/cascadehq/engine/internal/rag/store/pgvector"
)

// buildEmbeddingProvider constructs the embedding provider shared by the
// flat document store and the named-collection store, applying the
// fallback-to-local and caching wrapper when configured.
func buildEmbeddingProvider(embCfg config.RAGEmbeddingsConfig) (embeddings.Provider, error) {
	var embProvider embeddings.Provider
	var err error
	switch strings.ToLower(strings.TrimSpace(embCfg.Provider)) {
	case "openai", "":
		embProvider, err = openai.New(openai.Config{
			APIKey:  embCfg.APIKey,
			BaseURL: embCfg.BaseURL,
			Model:   embCfg.Model,
		})
	case "ollama":
		embProvider, err = ollama.New(ollama.Config{
			BaseURL: embCfg.BaseURL,
			Model:   embCfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown RAG embedding provider %q", embCfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	if embCfg.FallbackToLocal || embCfg.CacheEnabled {
		var fallback embeddings.Provider
		if embCfg.FallbackToLocal {
			fallback = local.New(local.Config{Dimension: embProvider.Dimension()})
		}
		embProvider = embeddings.NewManager(embProvider, fallback, embeddings.ManagerConfig{
			CacheEnabled: embCfg.CacheEnabled,
			CacheSize:    embCfg.CacheSize,
		})
	}

	return embProvider, nil
}

// initCollections sets up the named-collection knowledge store described by
// the RAG pipeline: a SQLite-backed Store keyed by (name, project_id),
// wrapped in a Manager that chunks, embeds, and queries through it.
func initCollections(cfg *config.Config, logger *slog.Logger) (*ragcollection.Manager, io.Closer, error) {
	if cfg == nil || !cfg.RAG.Collections.Enabled {
		return nil, nil, nil
	}

	embProvider, err := buildEmbeddingProvider(cfg.RAG.Embeddings)
	if err != nil {
		return nil, nil, err
	}

	store, err := ragcollection.Open(ragcollection.Config{Path: cfg.RAG.Collections.Path})
	if err != nil {
		return nil, nil, fmt.Errorf("init collection store: %w", err)
	}

	manager := ragcollection.NewManager(store, embProvider, ragcollection.ManagerConfig{
		ChunkTargetSize: cfg.RAG.Collections.ChunkTargetSize,
		ChunkMaxSize:    cfg.RAG.Collections.ChunkMaxSize,
		DefaultTopK:     cfg.RAG.Collections.DefaultTopK,
	})

	if logger != nil {
		logger.Info("collection knowledge store initialized", "path", cfg.RAG.Collections.Path)
	}

	return manager, store, nil
}

func initRAG(cfg *config.Config, logger *slog.Logger) (*ragindex.Manager, io.Closer, *ragcontext.Injector, error) {
	if cfg == nil || !cfg.RAG.Enabled {
		return nil, nil, nil, nil
	}

	storeCfg := cfg.RAG.Store
	backend := strings.ToLower(strings.TrimSpace(storeCfg.Backend))
	if backend == "" {
		backend = "pgvector"
	}
	if backend != "pgvector" {
		return nil, nil, nil, fmt.Errorf("unsupported RAG backend %q", backend)
	}

	embProvider, err := buildEmbeddingProvider(cfg.RAG.Embeddings)
	if err != nil {
		return nil, nil, nil, err
	}

	dimension := storeCfg.Dimension
	if dimension == 0 {
		dimension = embProvider.Dimension()
	}
	if embProvider.Dimension() != dimension {
		return nil, nil, nil, fmt.Errorf("embedding dimension mismatch: store=%d embedder=%d", dimension, embProvider.Dimension())
	}

	dsn := strings.TrimSpace(storeCfg.DSN)
	if dsn == "" && storeCfg.UseDatabaseURL {
		dsn = strings.TrimSpace(cfg.Database.URL)
	}
	if dsn == "" {
		return nil, nil, nil, fmt.Errorf("rag.store.dsn is required or set rag.store.use_database_url with database.url")
	}

	runMigrations := true
	if storeCfg.RunMigrations != nil {
		runMigrations = *storeCfg.RunMigrations
	}
	store, err := ragpgvector.New(ragpgvector.Config{
		DSN:           dsn,
		Dimension:     dimension,
		RunMigrations: runMigrations,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init rag store: %w", err)
	}

	indexCfg := &ragindex.Config{
		ChunkSize:          cfg.RAG.Chunking.ChunkSize,
		ChunkOverlap:       cfg.RAG.Chunking.ChunkOverlap,
		EmbeddingBatchSize: cfg.RAG.Embeddings.BatchSize,
		DefaultSource:      "gateway",
	}
	manager := ragindex.NewManager(store, embProvider, indexCfg)

	injectorCfg := ragcontext.DefaultInjectorConfig()
	injectorCfg.Enabled = cfg.RAG.ContextInjection.Enabled
	if cfg.RAG.ContextInjection.MaxChunks > 0 {
		injectorCfg.MaxChunks = cfg.RAG.ContextInjection.MaxChunks
	}
	if cfg.RAG.ContextInjection.MaxTokens > 0 {
		injectorCfg.MaxTokens = cfg.RAG.ContextInjection.MaxTokens
	}
	if cfg.RAG.ContextInjection.MinScore > 0 {
		injectorCfg.MinScore = cfg.RAG.ContextInjection.MinScore
	}
	if strings.TrimSpace(cfg.RAG.ContextInjection.Scope) != "" {
		injectorCfg.Scope = strings.TrimSpace(cfg.RAG.ContextInjection.Scope)
	}

	injector := ragcontext.NewInjector(manager, injectorCfg)

	if logger != nil {
		logger.Info("rag initialized", "backend", backend, "dimension", dimension)
	}

	return manager, store, injector, nil
}
