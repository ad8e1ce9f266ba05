package index

import (
	"math"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

// minNorm is the norm below which a vector is treated as zero.
const minNorm = 1e-12

// Normalize returns a unit-length copy of v. It fails with
// domain.ErrDegenerateVector when v has no direction.
func Normalize(v []float32) ([]float32, error) {
	norm := Norm(v)
	if math.IsNaN(norm) || math.IsInf(norm, 0) || norm < minNorm {
		return nil, goerr.Wrap(domain.ErrDegenerateVector, "cannot normalize vector", goerr.V("norm", norm), goerr.V("dim", len(v)))
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
