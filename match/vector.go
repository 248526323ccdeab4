package match

import (
	"fmt"
	"math"

	"github.com/poiesic/imgmatch/core"
)

// Cosine returns the cosine similarity of u and v, in [-1, 1].
// It is 0 when either vector has zero norm and fails with
// core.ErrDimensionMismatch when the lengths differ.
func Cosine(u, v []float32) (float64, error) {
	if len(u) != len(v) {
		return 0, fmt.Errorf("%w: %d vs %d", core.ErrDimensionMismatch, len(u), len(v))
	}
	return cosine(u, v, norm(u), norm(v)), nil
}

// cosine computes the similarity with precomputed norms. Lengths must match.
func cosine(u, v []float32, normU, normV float64) float64 {
	if normU == 0 || normV == 0 {
		return 0
	}
	var dot float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
	}
	sim := dot / (normU * normV)
	// Rounding can push parallel vectors just past the bounds.
	return math.Max(-1, math.Min(1, sim))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	result := make([]float32, len(v))
	magnitude := norm(v)
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
