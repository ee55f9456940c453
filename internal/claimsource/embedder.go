// Package claimsource provides the data-backed implementations of C3's
// outbound collaborators (spec §6): a Postgres/pgvector-backed ClaimSource
// for historical-claim lookup and similarity, an optional Qdrant index for
// high-volume deployments, and an in-memory EvidenceCorpus. The dual
// Postgres/Qdrant strategy mirrors the teacher repo's search layer.
package claimsource

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns claim text into a vector for similarity scoring. A real
// deployment injects a model-backed embedder; the pipeline only depends on
// this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HashEmbedder is the zero-dependency fallback embedder: a deterministic
// token-hash bag-of-words projection. It is not semantically meaningful but
// keeps Find/Similarity total when no model-backed embedder is configured,
// the same degrade-to-noop posture the rest of the pipeline takes.
type HashEmbedder struct {
	Dims int
}

func (e HashEmbedder) Dimensions() int {
	if e.Dims <= 0 {
		return 256
	}
	return e.Dims
}

func (e HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := e.Dimensions()
	vec := make([]float32, dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dims)]++ //nolint:gosec // dims is a small positive int
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// cosine computes cosine similarity between two equal-length vectors,
// clamped to [0,1] (negative similarity reads as "no support").
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}
