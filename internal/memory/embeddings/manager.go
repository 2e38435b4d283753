package embeddings

import (
	"context"
	"errors"
	"sync"
)

var _ Provider = (*Manager)(nil)

// ManagerConfig configures the embedding manager.
type ManagerConfig struct {
	// CacheEnabled turns on the bounded (provider, text) embedding cache.
	CacheEnabled bool

	// CacheSize bounds the number of cached vectors. Default: 1000.
	CacheSize int
}

// Manager routes embedding calls to a primary provider, falling back to a
// secondary provider on transient failures, and optionally caching results
// keyed by (provider type, text) the way internal/cache.DedupeCache bounds
// its own map: a mutex-guarded map with timestamp-based eviction rather than
// an intrusive linked list.
type Manager struct {
	primary  Provider
	fallback Provider
	cfg      ManagerConfig

	mu       sync.Mutex
	cache    map[cacheKey]cacheEntry
	cacheSeq int64
}

type cacheKey struct {
	provider string
	text     string
}

type cacheEntry struct {
	vector []float32
	seq    int64
}

// NewManager creates an embedding manager. fallback may be nil to disable
// failover.
func NewManager(primary, fallback Provider, cfg ManagerConfig) *Manager {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	m := &Manager{primary: primary, fallback: fallback, cfg: cfg}
	if cfg.CacheEnabled {
		m.cache = make(map[cacheKey]cacheEntry)
	}
	return m
}

// Primary returns the configured primary provider.
func (m *Manager) Primary() Provider {
	return m.primary
}

// Embed implements Provider by delegating to EmbedQuery, so a Manager can be
// used anywhere a single embeddings.Provider is expected (e.g. rag/index.Manager).
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.EmbedQuery(ctx, text)
}

// EmbedBatch implements Provider by delegating to EmbedDocuments.
func (m *Manager) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return m.EmbedDocuments(ctx, texts)
}

// Name returns the primary provider's name.
func (m *Manager) Name() string { return m.primary.Name() }

// Dimension returns the primary provider's embedding dimension. Fallback
// providers are expected to share it; rag/index.Manager validates this
// against the store's configured dimension at startup.
func (m *Manager) Dimension() int { return m.primary.Dimension() }

// MaxBatchSize returns the primary provider's batch limit.
func (m *Manager) MaxBatchSize() int { return m.primary.MaxBatchSize() }

// HealthCheck checks the primary provider, falling back to the secondary if
// the primary is unreachable and a fallback is configured.
func (m *Manager) HealthCheck(ctx context.Context) error {
	err := m.primary.HealthCheck(ctx)
	if err == nil || m.fallback == nil {
		return err
	}
	return m.fallback.HealthCheck(ctx)
}

// IsLocal reports whether the primary provider runs without a network call.
func (m *Manager) IsLocal() bool { return m.primary.IsLocal() }

// ProviderType returns the primary provider's type identifier.
func (m *Manager) ProviderType() string { return m.primary.ProviderType() }

// DisplayName returns the primary provider's display name.
func (m *Manager) DisplayName() string { return m.primary.DisplayName() }

// EmbedQuery embeds a single query text, matching the embed_query contract.
func (m *Manager) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := m.cacheGet(m.primary.ProviderType(), text); ok {
		return vec, nil
	}

	vec, err := m.primary.Embed(ctx, text)
	if err == nil {
		m.cachePut(m.primary.ProviderType(), text, vec)
		return vec, nil
	}
	if !m.shouldFallback(err) {
		return nil, err
	}

	if cached, ok := m.cacheGet(m.fallback.ProviderType(), text); ok {
		return cached, nil
	}
	vec, ferr := m.fallback.Embed(ctx, text)
	if ferr != nil {
		return nil, ferr
	}
	m.cachePut(m.fallback.ProviderType(), text, vec)
	return vec, nil
}

// EmbedDocuments embeds a batch of texts, matching the embed_documents
// contract. On a transient primary error the whole batch is retried against
// the fallback provider; per-entry caching still applies.
func (m *Manager) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if vec, ok := m.cacheGet(m.primary.ProviderType(), text); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	embedded, err := m.primary.EmbedBatch(ctx, missing)
	provider := m.primary
	if err != nil {
		if !m.shouldFallback(err) {
			return nil, err
		}
		embedded, err = m.fallback.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		provider = m.fallback
	}

	for j, idx := range missingIdx {
		if j >= len(embedded) {
			break
		}
		results[idx] = embedded[j]
		m.cachePut(provider.ProviderType(), missing[j], embedded[j])
	}
	return results, nil
}

// shouldFallback reports whether err is a transient failure and a fallback
// provider is configured.
func (m *Manager) shouldFallback(err error) bool {
	if m.fallback == nil {
		return false
	}
	var embErr *Error
	if errors.As(err, &embErr) {
		return embErr.Retryable()
	}
	return false
}

func (m *Manager) cacheGet(provider, text string) ([]float32, bool) {
	if m.cache == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[cacheKey{provider: provider, text: text}]
	if !ok {
		return nil, false
	}
	m.cacheSeq++
	entry.seq = m.cacheSeq
	m.cache[cacheKey{provider: provider, text: text}] = entry
	return entry.vector, true
}

func (m *Manager) cachePut(provider, text string, vector []float32) {
	if m.cache == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheSeq++
	m.cache[cacheKey{provider: provider, text: text}] = cacheEntry{vector: vector, seq: m.cacheSeq}
	m.evictLocked()
}

// evictLocked removes the least-recently-used entry until the cache is back
// within its configured bound. Must be called with m.mu held.
func (m *Manager) evictLocked() {
	for len(m.cache) > m.cfg.CacheSize {
		var oldestKey cacheKey
		var oldestSeq int64 = -1
		for k, v := range m.cache {
			if oldestSeq == -1 || v.seq < oldestSeq {
				oldestSeq = v.seq
				oldestKey = k
			}
		}
		if oldestSeq == -1 {
			break
		}
		delete(m.cache, oldestKey)
	}
}
