package index

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"medrag/internal/domain"
	"medrag/internal/logging"
)

// Builder embeds a sentence sequence and produces a new Generation.
type Builder struct {
	embedder    domain.Embedder
	concurrency int
	now         func() time.Time
}

type BuilderOption func(*Builder)

// WithConcurrency bounds the number of embed calls in flight.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithClock overrides the build timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(embedder domain.Embedder, opts ...BuilderOption) *Builder {
	b := &Builder{embedder: embedder, concurrency: 4, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build embeds every sentence, normalizes the vectors and returns the new
// generation. One degenerate vector fails the whole build.
func (b *Builder) Build(ctx context.Context, sentences []domain.Sentence) (*Generation, error) {
	for i, s := range sentences {
		if s.ID != i {
			return nil, goerr.Wrap(domain.ErrInvalidArgument, "sentence id does not match its position",
				goerr.V("position", i), goerr.V("id", s.ID))
		}
	}

	started := b.now()
	vectors := make([][]float32, len(sentences))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for i, s := range sentences {
		eg.Go(func() error {
			raw, err := b.embedder.Embed(egCtx, s.Text)
			if err != nil {
				return goerr.Wrap(err, "failed to embed sentence", goerr.V("id", i))
			}
			v, err := Normalize(raw)
			if err != nil {
				return goerr.Wrap(err, "degenerate sentence embedding", goerr.V("id", i), goerr.V("text", s.Text))
			}
			vectors[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	idx, err := New(dim, vectors)
	if err != nil {
		return nil, goerr.Wrap(err, "embedder returned inconsistent dimensions")
	}

	g := &Generation{
		ID:        started.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		Model:     b.embedder.Name(),
		BuiltAt:   started,
		Index:     idx,
		Sentences: sentences,
	}
	logging.From(ctx).Info("index built",
		"generation", g.ID,
		"model", g.Model,
		"sentences", len(sentences),
		"dim", dim,
		"elapsed", b.now().Sub(started),
	)
	return g, nil
}
