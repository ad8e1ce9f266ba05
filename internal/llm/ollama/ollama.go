// Package ollama generates answers with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Generator calls the Ollama generate API without streaming.
type Generator struct {
	baseURL     string
	model       string
	temperature float64
	topP        float64
	client      *http.Client
}

type Option func(*Generator)

// WithSampling sets temperature and nucleus sampling.
func WithSampling(temperature, topP float64) Option {
	return func(g *Generator) {
		g.temperature = temperature
		g.topP = topP
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) {
		g.client = c
	}
}

// New creates an Ollama generator.
func New(baseURL, model string, opts ...Option) *Generator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	g := &Generator{
		baseURL:     baseURL,
		model:       model,
		temperature: 0.7,
		topP:        0.9,
		client:      &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Raw     bool            `json:"raw"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends the prompt verbatim and returns the model's continuation.
func (g *Generator) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	data, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Raw:    true,
		Options: generateOptions{
			NumPredict:  maxNewTokens,
			Temperature: g.temperature,
			TopP:        g.topP,
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call Ollama", goerr.V("url", g.baseURL))
	}
	defer resp.Body.Close() //nolint:errcheck // read only

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", goerr.New("Ollama returned an error", goerr.V("status", resp.StatusCode), goerr.V("body", string(body)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", goerr.Wrap(err, "failed to decode generate response")
	}
	return out.Response, nil
}
