// Package local provides a deterministic, dependency-free embedding
// provider used as a fallback when no remote embedding backend is
// configured or reachable.
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cascadehq/engine/internal/memory/embeddings"
)

const defaultDimension = 256

// Provider implements embeddings.Provider with a hashing-trick term
// frequency vector: each token is hashed into a fixed-size bucket and
// weighted by a log-scaled term frequency, then L2-normalized. Unlike a
// corpus-fitted TF-IDF index it needs no shared document-frequency state,
// so it can run per-call with no I/O and a stable output dimension.
type Provider struct {
	dimension int
}

var _ embeddings.Provider = (*Provider)(nil)

// Config contains configuration for the local provider.
type Config struct {
	// Dimension is the output vector length. Default: 256.
	Dimension int
}

// New creates a new local TF-IDF embedding provider.
func New(cfg Config) *Provider {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = defaultDimension
	}
	return &Provider{dimension: dim}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "local-tfidf"
}

// Dimension returns the configured embedding dimension.
func (p *Provider) Dimension() int {
	return p.dimension
}

// MaxBatchSize returns the maximum number of texts per batch. There is no
// external call to batch, so this is effectively unbounded; a generous
// value keeps callers from special-casing the local provider.
func (p *Provider) MaxBatchSize() int {
	return 10000
}

// IsLocal reports that this provider performs no network I/O.
func (p *Provider) IsLocal() bool {
	return true
}

// ProviderType returns the stable machine identifier for this provider.
func (p *Provider) ProviderType() string {
	return "tfidf"
}

// DisplayName returns a human-readable label.
func (p *Provider) DisplayName() string {
	return fmt.Sprintf("Local TF-IDF (dim=%d)", p.dimension)
}

// HealthCheck always succeeds: there is no external dependency to probe.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return nil
}

// Embed generates an embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.vectorize(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = p.vectorize(text)
	}
	return results, nil
}

func (p *Provider) vectorize(text string) []float32 {
	tokens := tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	vec := make([]float64, p.dimension)
	for tok, count := range tf {
		bucket := hashToken(tok) % uint32(p.dimension)
		weight := 1.0 + math.Log(float64(count))
		vec[bucket] += weight
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, p.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// tokenize mirrors internal/tools/memorysearch's lowercase, alnum-run
// tokenizer so local embeddings and lexical search agree on what counts as
// a token.
func tokenize(content string) []string {
	content = strings.ToLower(content)
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// hashToken computes a deterministic 32-bit FNV-1a hash of the token.
func hashToken(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
