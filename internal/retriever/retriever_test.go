package retriever_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/gt"

	"medrag/internal/corpus"
	"medrag/internal/domain"
	"medrag/internal/index"
	"medrag/internal/retriever"
)

type mockEmbedder struct {
	name    string
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Name() string { return m.name }

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

// tableEmbedder maps known texts to raw vectors and everything else to zero.
func tableEmbedder(table map[string][]float32) *mockEmbedder {
	return &mockEmbedder{name: "table", embedFn: func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := table[text]; ok {
			return v, nil
		}
		return make([]float32, 3), nil
	}}
}

func buildFlu(t *testing.T, emb domain.Embedder) *index.Generation {
	t.Helper()
	records, err := corpus.Parse([]byte(`[{"Name of illness":"Flu","Symptoms":["fever","cough"]}]`))
	gt.NoError(t, err).Required()
	ss, err := corpus.NewNormalizer().Normalize(records)
	gt.NoError(t, err).Required()
	g, err := index.NewBuilder(emb).Build(context.Background(), ss)
	gt.NoError(t, err).Required()
	return g
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	emb := tableEmbedder(map[string][]float32{
		"Flu has symptom: fever": {1, 0, 0},
		"Flu has symptom: cough": {0, 1, 0},
		"fever":                  {1, 0, 0},
		"loud fever":             {5, 0.2, 0},
		"cough or fever":         {1, 1, 0},
	})
	g := buildFlu(t, emb)

	t.Run("query matching a sentence ranks it first", func(t *testing.T) {
		res, err := retriever.New(emb).Search(ctx, g, "fever", 1)
		gt.NoError(t, err).Required()
		gt.Array(t, res).Length(1)
		gt.Value(t, res[0].SentenceID).Equal(0)
		gt.Bool(t, math.Abs(res[0].Score-1) < 1e-6).True()
	})

	t.Run("query vector is normalized before scoring", func(t *testing.T) {
		res, err := retriever.New(emb).Search(ctx, g, "loud fever", 2)
		gt.NoError(t, err).Required()
		gt.Value(t, res.IDs()).Equal([]int{0, 1})
		gt.Bool(t, res[0].Score <= 1+1e-6).True()
		gt.Bool(t, res[0].Score > 0.99).True()
	})

	t.Run("ties resolved by id", func(t *testing.T) {
		res, err := retriever.New(emb).Search(ctx, g, "cough or fever", 2)
		gt.NoError(t, err).Required()
		gt.Value(t, res.IDs()).Equal([]int{0, 1})
	})

	t.Run("k beyond corpus size", func(t *testing.T) {
		res, err := retriever.New(emb).Search(ctx, g, "fever", 50)
		gt.NoError(t, err).Required()
		gt.Array(t, res).Length(2)
	})

	t.Run("minimum score floor", func(t *testing.T) {
		res, err := retriever.New(emb, retriever.WithMinScore(0.5)).Search(ctx, g, "fever", 5)
		gt.NoError(t, err).Required()
		gt.Value(t, res.IDs()).Equal([]int{0})
	})

	t.Run("non-positive k", func(t *testing.T) {
		_, err := retriever.New(emb).Search(ctx, g, "fever", 0)
		gt.Error(t, err).Is(domain.ErrInvalidArgument)
	})

	t.Run("zero query vector falls back to word overlap", func(t *testing.T) {
		res, err := retriever.New(emb).Search(ctx, g, "persistent cough", 5)
		gt.NoError(t, err).Required()
		gt.Value(t, res.IDs()).Equal([]int{1})
	})

	t.Run("embed failure propagates", func(t *testing.T) {
		boom := errors.New("embedding backend timeout")
		failing := &mockEmbedder{name: "table", embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return nil, boom
		}}
		_, err := retriever.New(failing).Search(ctx, g, "fever", 1)
		gt.Error(t, err).Is(boom)
	})
}

func TestSearchUnavailable(t *testing.T) {
	ctx := context.Background()
	emb := tableEmbedder(map[string][]float32{
		"Flu has symptom: fever": {1, 0, 0},
		"Flu has symptom: cough": {0, 1, 0},
	})

	t.Run("no generation", func(t *testing.T) {
		_, err := retriever.New(emb).Search(ctx, nil, "fever", 1)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
	})

	t.Run("vectors and sentences out of step", func(t *testing.T) {
		g := buildFlu(t, emb)
		broken := *g
		broken.Sentences = g.Sentences[:1]
		_, err := retriever.New(emb).Search(ctx, &broken, "fever", 1)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
	})

	t.Run("different embedding model", func(t *testing.T) {
		g := buildFlu(t, emb)
		other := tableEmbedder(nil)
		other.name = "other-model"
		_, err := retriever.New(other).Search(ctx, g, "fever", 1)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
	})
}

func TestSearchEmptyCorpus(t *testing.T) {
	emb := tableEmbedder(nil)
	g, err := index.NewBuilder(emb).Build(context.Background(), nil)
	gt.NoError(t, err).Required()

	res, err := retriever.New(emb).Search(context.Background(), g, "fever", 5)
	gt.NoError(t, err).Required()
	gt.Array(t, res).Length(0)
}
