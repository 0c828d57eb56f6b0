package vector

import (
	"math"
	"sort"

	"litagent/internal/models"
)

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Candidate is a chunk with its stored embedding, used by in-process search.
type Candidate struct {
	Result    models.ChunkResult
	Embedding []float32
}

// TopK scores candidates against query and keeps the k best, ties broken by
// chunk id so results are stable.
func TopK(query []float32, candidates []Candidate, k int) []models.ChunkResult {
	if k <= 0 {
		k = DefaultTopK
	}
	scored := make([]models.ChunkResult, 0, len(candidates))
	for _, c := range candidates {
		r := c.Result
		r.Score = CosineSimilarity(query, c.Embedding)
		scored = append(scored, r)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].ChunkID < scored[j].ChunkID
		}
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
