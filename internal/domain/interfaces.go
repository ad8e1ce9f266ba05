package domain

import "context"

// Embedder converts free text into a numeric vector representation.
// Name identifies the model; an index only serves queries embedded by the
// same model it was built with.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

// Summarizer ranks the sentences of a paragraph and returns the best ones in
// their original order.
type Summarizer interface {
	Summarize(text string, maxSentences int) ([]string, error)
}
