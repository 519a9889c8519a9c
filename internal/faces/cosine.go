package faces

import "math"

// CosineMetric scores features by cosine similarity in [-1, 1]. Invalid
// input (length mismatch, empty, zero norm, non-finite values) scores 0.
type CosineMetric struct{}

func (CosineMetric) Similarity(a, b Feature) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		return 0
	}
	// Floating point error can push the ratio just outside [-1, 1].
	if similarity > 1 {
		return 1
	}
	if similarity < -1 {
		return -1
	}
	return similarity
}
