package retriever

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
	"medrag/internal/index"
	"medrag/internal/lexical"
	"medrag/internal/logging"
)

// Retriever ranks the sentences of one generation against a query.
type Retriever struct {
	embedder domain.Embedder
	minScore float64
}

type Option func(*Retriever)

// WithMinScore drops hits scoring below min.
func WithMinScore(min float64) Option {
	return func(r *Retriever) {
		r.minScore = min
	}
}

func New(embedder domain.Embedder, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns up to k sentence ids of g ranked by similarity to query.
// The query vector is normalized exactly as sentence vectors were at build
// time. A query without any embeddable content falls back to word overlap.
func (r *Retriever) Search(ctx context.Context, g *index.Generation, query string, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "k must be positive", goerr.V("k", k))
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if g.Index.Len() == 0 {
		return domain.RetrievalResult{}, nil
	}
	if name := r.embedder.Name(); name != g.Model {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "index was built with a different embedding model",
			goerr.V("index_model", g.Model), goerr.V("query_model", name), goerr.V("generation", g.ID))
	}

	raw, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}
	if index.IsZero(raw) {
		logging.From(ctx).Debug("query has no embeddable content, using word overlap", "generation", g.ID)
		return r.lexical(g, query, k), nil
	}
	q, err := index.Normalize(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to normalize query")
	}

	res, err := g.Index.Search(q, k)
	if err != nil {
		return nil, goerr.Wrap(err, "search failed", goerr.V("generation", g.ID))
	}
	return r.floor(res), nil
}

func (r *Retriever) lexical(g *index.Generation, query string, k int) domain.RetrievalResult {
	qset := lexical.NewTokenSet(query)
	if len(qset) == 0 {
		return domain.RetrievalResult{}
	}
	hits := make([]domain.Hit, 0, len(g.Sentences))
	for _, s := range g.Sentences {
		if score := lexical.Ochiai(qset, lexical.NewTokenSet(s.Text)); score > 0 {
			hits = append(hits, domain.Hit{SentenceID: s.ID, Score: score})
		}
	}
	return r.floor(index.TopK(hits, k))
}

func (r *Retriever) floor(res domain.RetrievalResult) domain.RetrievalResult {
	if r.minScore <= 0 {
		return res
	}
	out := res[:0]
	for _, h := range res {
		if h.Score >= r.minScore {
			out = append(out, h)
		}
	}
	return out
}
