// Package similarity implements cosine comparison of embedding vectors
// and the linear-scan search over persisted records.
package similarity

import (
	"fmt"
	"math"
)

// DimensionMismatchError reports two vectors of different lengths. All
// embeddings in the system share one fixed dimension, so a mismatch
// means a corrupted record rather than an expected condition.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Cosine returns the cosine similarity of two equal-length vectors,
// in [-1, 1]. If either vector has zero magnitude the result is 0 —
// there is no direction to compare, and dividing by zero is worse.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
