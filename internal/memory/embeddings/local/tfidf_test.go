package local

import (
	"context"
	"math"
	"testing"
)

func TestProviderDimension(t *testing.T) {
	p := New(Config{})
	if p.Dimension() != defaultDimension {
		t.Errorf("Dimension() = %d, want %d", p.Dimension(), defaultDimension)
	}
	p2 := New(Config{Dimension: 512})
	if p2.Dimension() != 512 {
		t.Errorf("Dimension() = %d, want 512", p2.Dimension())
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	p := New(Config{Dimension: 64})
	a, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("unexpected vector length: %d, %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at index %d: %f != %f", i, a[i], b[i])
		}
	}
}

func TestEmbedIsNormalized(t *testing.T) {
	p := New(Config{Dimension: 64})
	vec, err := p.Embed(context.Background(), "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1.0) > 1e-6 {
		t.Fatalf("expected unit norm, got %f", norm)
	}
}

func TestEmbedEmptyTextIsZeroVector(t *testing.T) {
	p := New(Config{Dimension: 32})
	vec, err := p.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector, index %d = %f", i, v)
		}
	}
}

func TestEmbedBatch(t *testing.T) {
	p := New(Config{Dimension: 32})
	results, err := p.EmbedBatch(context.Background(), []string{"alpha beta", "gamma delta", "alpha beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := range results[0] {
		if results[0][i] != results[2][i] {
			t.Fatalf("identical inputs produced different vectors at index %d", i)
		}
	}
}

func TestHealthCheckAlwaysSucceeds(t *testing.T) {
	p := New(Config{})
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestMetadata(t *testing.T) {
	p := New(Config{})
	if !p.IsLocal() {
		t.Error("IsLocal() = false, want true")
	}
	if p.ProviderType() != "tfidf" {
		t.Errorf("ProviderType() = %q, want %q", p.ProviderType(), "tfidf")
	}
	if p.DisplayName() == "" {
		t.Error("DisplayName() should not be empty")
	}
	if p.MaxBatchSize() <= 0 {
		t.Error("MaxBatchSize() should be positive")
	}
}
