package hashing

import (
	"context"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
	"medrag/internal/lexical"
)

// DefaultDimension is used when no dimension is configured.
const DefaultDimension = 512

// Embedder maps text to a fixed-dimension vector by feature hashing of
// words and adjacent word pairs with sublinear term frequency. It needs no
// vocabulary, so the same text always embeds the same way.
type Embedder struct {
	dim int
}

// NewEmbedder creates a hashing embedder of the given dimension.
func NewEmbedder(dim int) (*Embedder, error) {
	if dim <= 0 {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "dimension must be positive", goerr.V("dim", dim))
	}
	return &Embedder{dim: dim}, nil
}

// Name returns the identifier of this embedder, which includes the dimension.
func (e *Embedder) Name() string { return "hashing-" + strconv.Itoa(e.dim) }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dim }

// Embed returns the L2-normalized hashed vector of text. Text without any
// content word yields the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	terms := lexical.Terms(text)
	tf := make(map[string]int, len(terms)*2)
	for i, t := range terms {
		tf[t]++
		if i > 0 {
			tf[terms[i-1]+" "+t]++
		}
	}

	// sorted features keep float accumulation order, and so the vector bits,
	// identical across runs when features share a bucket
	acc := make([]float64, e.dim)
	for _, feature := range slices.Sorted(maps.Keys(tf)) {
		count := tf[feature]
		h := xxhash.Sum64String(feature)
		sign := 1.0
		if h>>63 == 1 {
			sign = -1.0
		}
		acc[h%uint64(e.dim)] += sign * (1 + math.Log(float64(count)))
	}

	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, e.dim)
	if norm == 0 {
		return vec, nil
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}
