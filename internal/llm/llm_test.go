package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"

	"medrag/internal/domain"
	"medrag/internal/llm"
	"medrag/internal/prompt"
)

// mockSession is a mock gollem Session for testing
type mockSession struct {
	generateFn func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error)
}

func (s *mockSession) Generate(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
	if s.generateFn != nil {
		return s.generateFn(ctx, input, opts...)
	}
	return &gollem.Response{Texts: []string{"mock response"}}, nil
}

func (s *mockSession) Stream(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.Generate(ctx, input)
}

func (s *mockSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

var _ gollem.Session = (*mockSession)(nil)

var _ gollem.LLMClient = (*mockClient)(nil)

// mockClient is a mock gollem LLMClient for testing
type mockClient struct {
	session     *mockSession
	embeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return c.session, nil
}

func (c *mockClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return c.embeddingFn(ctx, dimension, input)
}

func TestEmbedder(t *testing.T) {
	client := &mockClient{embeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
		gt.Value(t, dimension).Equal(3)
		gt.Value(t, input).Equal([]string{"fever"})
		return [][]float64{{0.5, 0, -0.25}}, nil
	}}
	e, err := llm.NewEmbedder(client, 3, "gemini-embedding-3")
	gt.NoError(t, err).Required()
	gt.Value(t, e.Name()).Equal("gemini-embedding-3")

	v, err := e.Embed(context.Background(), "fever")
	gt.NoError(t, err).Required()
	gt.Value(t, v).Equal([]float32{0.5, 0, -0.25})

	t.Run("failure propagates", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		e, err := llm.NewEmbedder(&mockClient{embeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
			return nil, boom
		}}, 3, "m")
		gt.NoError(t, err).Required()
		_, err = e.Embed(context.Background(), "x")
		gt.Error(t, err).Is(boom)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := llm.NewEmbedder(nil, 3, "m")
		gt.Error(t, err).Is(domain.ErrInvalidArgument)
		_, err = llm.NewEmbedder(client, 0, "m")
		gt.Error(t, err).Is(domain.ErrInvalidArgument)
	})
}

func TestGenerator(t *testing.T) {
	var (
		got       string
		maxTokens *int
	)
	client := &mockClient{session: &mockSession{generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
		gt.Array(t, input).Length(1)
		got = string(input[0].(gollem.Text))
		cfg := gollem.NewGenerateConfig(opts...)
		maxTokens = cfg.MaxTokens()
		return &gollem.Response{Texts: []string{"Rest and ", "drink fluids."}}, nil
	}}}
	g, err := llm.NewGenerator(client)
	gt.NoError(t, err).Required()

	answer, err := g.Generate(context.Background(), "the prompt", 300)
	gt.NoError(t, err).Required()
	gt.Value(t, answer).Equal("Rest and drink fluids.")
	gt.Value(t, got).Equal("the prompt")
	gt.Bool(t, maxTokens != nil).True()
	gt.Value(t, *maxTokens).Equal(300)

	t.Run("no cap when max tokens is zero", func(t *testing.T) {
		_, err := g.Generate(context.Background(), "the prompt", 0)
		gt.NoError(t, err).Required()
		gt.Bool(t, maxTokens == nil).True()
	})

	t.Run("empty response", func(t *testing.T) {
		client := &mockClient{session: &mockSession{generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
			return &gollem.Response{}, nil
		}}}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()
		_, err = g.Generate(context.Background(), "p", 10)
		gt.Value(t, err).NotNil()
	})

	t.Run("failure propagates", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		client := &mockClient{session: &mockSession{generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
			return nil, boom
		}}}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()
		_, err = g.Generate(context.Background(), "p", 10)
		gt.Error(t, err).Is(boom)
	})
}

func TestEcho(t *testing.T) {
	sentences := []domain.Sentence{{ID: 0, Text: "Flu has symptom: fever"}, {ID: 1, Text: "Flu has symptom: cough"}}
	c, err := prompt.NewAssembler().Assemble(prompt.Request{
		Retrieval: domain.RetrievalResult{{SentenceID: 1, Score: 0.9}, {SentenceID: 0, Score: 0.5}},
		Sentences: sentences,
		Query:     "what are flu symptoms?",
		MaxLength: 4096,
	})
	gt.NoError(t, err).Required()

	answer, err := llm.Echo{}.Generate(context.Background(), c.Text, 300)
	gt.NoError(t, err).Required()
	gt.Value(t, answer).Equal("Relevant facts:\nFlu has symptom: cough\nFlu has symptom: fever")

	empty, err := prompt.NewAssembler().Assemble(prompt.Request{Query: "hi", MaxLength: 4096})
	gt.NoError(t, err).Required()
	answer, err = llm.Echo{}.Generate(context.Background(), empty.Text, 300)
	gt.NoError(t, err).Required()
	gt.String(t, answer).Contains("could not find")
}
