// Package llm adapts gollem LLM clients to the embedding and generation
// collaborators of the engine.
package llm

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"

	"medrag/internal/domain"
)

// NewGemini creates a Vertex AI Gemini client for a project and location.
func NewGemini(ctx context.Context, projectID, location string) (gollem.LLMClient, error) {
	if projectID == "" {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "gemini project is required")
	}
	client, err := gemini.New(ctx, projectID, location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client", goerr.V("project", projectID), goerr.V("location", location))
	}
	return client, nil
}

// Embedder embeds text through an LLM client's embedding endpoint.
type Embedder struct {
	client gollem.LLMClient
	dim    int
	name   string
}

// NewEmbedder wraps client. name identifies the embedding model and must
// change whenever the produced vectors would.
func NewEmbedder(client gollem.LLMClient, dim int, name string) (*Embedder, error) {
	if client == nil {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "llm client is nil")
	}
	if dim <= 0 {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "embedding dimension must be positive", goerr.V("dim", dim))
	}
	return &Embedder{client: client, dim: dim, name: name}, nil
}

func (e *Embedder) Name() string { return e.name }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.client.GenerateEmbedding(ctx, e.dim, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding", goerr.V("model", e.name))
	}
	if len(out) != 1 {
		return nil, goerr.New("unexpected embedding count", goerr.V("model", e.name), goerr.V("count", len(out)))
	}
	v := make([]float32, len(out[0]))
	for i, x := range out[0] {
		v[i] = float32(x)
	}
	return v, nil
}

// Generator answers prompts with a fresh LLM session per call, so no state
// leaks between conversations.
type Generator struct {
	client gollem.LLMClient
}

func NewGenerator(client gollem.LLMClient) (*Generator, error) {
	if client == nil {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "llm client is nil")
	}
	return &Generator{client: client}, nil
}

// Generate sends prompt as a single user turn, capping the answer at
// maxNewTokens when it is positive.
func (g *Generator) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	session, err := g.client.NewSession(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}
	var opts []gollem.GenerateOption
	if maxNewTokens > 0 {
		opts = append(opts, gollem.WithMaxTokens(maxNewTokens))
	}
	resp, err := session.Generate(ctx, []gollem.Input{gollem.Text(prompt)}, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate answer", goerr.V("max_new_tokens", maxNewTokens))
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("LLM returned an empty response")
	}
	return strings.Join(resp.Texts, ""), nil
}

// Echo is an offline generator that answers with the retrieved context block
// of the prompt. It lets the chat surfaces run without a model.
type Echo struct{}

func (Echo) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	const start, end = "\n\nContext:\n", "\n\nConversation history:"
	i := strings.Index(prompt, start)
	if i < 0 {
		return "", nil
	}
	body := prompt[i+len(start):]
	if j := strings.Index(body, end); j >= 0 {
		body = body[:j]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "I could not find anything relevant in the knowledge base.", nil
	}
	return "Relevant facts:\n" + body, nil
}
