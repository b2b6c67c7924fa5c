// Package knowledge holds the two embedding-backed retrieval indices: the
// term index used for acronym standardisation and the passage index over
// clinical guideline documents. Both are built once and read-only after.
package knowledge

import (
	"context"
	"fmt"
	"math"

	"clinicrew/internal/domain"
)

// embedBatchSize bounds the number of texts sent per Embed call at build time.
const embedBatchSize = 64

// Cosine returns dot(a,b) / (|a|*|b|). It returns 0 for a length mismatch,
// empty or zero vectors, and NaN/Inf results.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	sim := dot / denom
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}

// embedAll embeds texts in batches and checks the provider returned one
// vector per input.
func embedAll(ctx context.Context, embedder domain.EmbeddingProvider, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		vecs, err := embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingFailed, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedOne embeds a single query text.
func embedOne(ctx context.Context, embedder domain.EmbeddingProvider, text string) ([]float32, error) {
	vecs, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", domain.ErrEmbeddingFailed, len(vecs))
	}
	return vecs[0], nil
}
