// Package similarity provides the vector primitives used by memory retrieval:
// L2 normalization, cosine similarity and partial top-k selection.
//
// Vectors are float32 rows. Dot products are accumulated in float64 so scores
// are stable across runs and platforms.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon floors the norm in Normalize so a zero vector maps to itself.
const Epsilon = 1e-12

// ErrDimensionMismatch is returned when two vectors of different lengths are compared.
var ErrDimensionMismatch = errors.New("similarity: dimension mismatch")

// NormalizeVec returns v divided by its Euclidean norm. The input is not
// modified. A zero vector comes back as a zero vector, never NaN.
func NormalizeVec(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Max(math.Sqrt(sum), Epsilon)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Normalize applies NormalizeVec to every row.
func Normalize(vectors [][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = NormalizeVec(v)
	}
	return out
}

// Dot returns the dot product of a and b. For unit vectors this is their
// cosine similarity. Vectors of different length are an error.
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum), nil
}

// Cosine returns the len(a)×len(b) matrix of cosine similarities between the
// normalized rows of a and b.
func Cosine(a, b [][]float32) ([][]float32, error) {
	na := Normalize(a)
	nb := Normalize(b)

	out := make([][]float32, len(na))
	for i := range na {
		row := make([]float32, len(nb))
		for j := range nb {
			s, err := Dot(na[i], nb[j])
			if err != nil {
				return nil, fmt.Errorf("similarity: cosine row %d col %d: %w", i, j, err)
			}
			row[j] = s
		}
		out[i] = row
	}
	return out, nil
}
