package index

import (
	"cmp"
	"slices"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

// Index is an exact inner-product index over unit vectors. Position i holds
// the vector of sentence id i. It is immutable once built.
type Index struct {
	dim  int
	n    int
	data []float32
}

// New copies vectors into a flat index. All vectors must share one dimension.
func New(dim int, vectors [][]float32) (*Index, error) {
	if dim <= 0 && len(vectors) > 0 {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "dimension must be positive", goerr.V("dim", dim))
	}
	data := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, goerr.Wrap(domain.ErrInvalidArgument, "vector dimension mismatch",
				goerr.V("id", i), goerr.V("want", dim), goerr.V("got", len(v)))
		}
		data = append(data, v...)
	}
	return &Index{dim: dim, n: len(vectors), data: data}, nil
}

// Dim returns the vector dimension. An empty index may report zero.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of indexed vectors.
func (x *Index) Len() int { return x.n }

// Vector returns the stored vector of id. The slice must not be modified.
func (x *Index) Vector(id int) []float32 {
	return x.data[id*x.dim : (id+1)*x.dim]
}

// Search returns the k best ids by inner product with query, highest score
// first and ties by ascending id. query must already be unit length.
func (x *Index) Search(query []float32, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "k must be positive", goerr.V("k", k))
	}
	if x.n == 0 {
		return domain.RetrievalResult{}, nil
	}
	if len(query) != x.dim {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "query dimension does not match index",
			goerr.V("index_dim", x.dim), goerr.V("query_dim", len(query)))
	}

	hits := make([]domain.Hit, x.n)
	for i := 0; i < x.n; i++ {
		hits[i] = domain.Hit{SentenceID: i, Score: dot(x.Vector(i), query)}
	}
	return TopK(hits, k), nil
}

// TopK sorts hits by descending score then ascending id and keeps k of them.
func TopK(hits []domain.Hit, k int) domain.RetrievalResult {
	slices.SortFunc(hits, func(a, b domain.Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.SentenceID, b.SentenceID)
	})
	if k > len(hits) {
		k = len(hits)
	}
	return domain.RetrievalResult(slices.Clone(hits[:k]))
}
