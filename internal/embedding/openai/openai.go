package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/logging"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// Ollama response shape.
type Client struct {
	baseURL    string
	APIKey     string `masq:"secret"`
	model      string
	client     *http.Client
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
// An empty APIKeyEnv means the endpoint needs no key (local Ollama).
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, goerr.New("missing API key in env", goerr.V("env", cfg.APIKeyEnv))
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: t}
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		APIKey:     key,
		model:      cfg.Model,
		client:     hc,
		maxRetries: retries,
		sleep:      sleepCtx,
	}, nil
}

// Name returns the identifier of the embedding model.
func (c *Client) Name() string { return "openai:" + c.model }

// Embed returns an embedding vector for the given text. Rate limiting and
// server errors are retried with backoff up to the configured count.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal embeddings request")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logging.From(ctx).Debug("retrying embeddings request", "attempt", attempt, "error", lastErr)
		}
		v, wait, err := c.do(ctx, url, data, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if wait < 0 || attempt == c.maxRetries {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, goerr.Wrap(err, "embeddings request cancelled")
		}
	}
	return nil, lastErr
}

// do performs one attempt. A non-negative wait means the failure is worth
// retrying after that delay.
func (c *Client) do(ctx context.Context, url string, data []byte, attempt int) ([]float32, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, -1, goerr.Wrap(err, "failed to create embeddings request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, goerr.Wrap(err, "embeddings request cancelled")
		}
		return nil, retryDelay(attempt), goerr.Wrap(err, "embeddings request failed", goerr.V("url", url))
	}
	defer resp.Body.Close() //nolint:errcheck // read only

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		wait := retryDelay(attempt)
		// Respect Retry-After if provided
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
		return nil, wait, goerr.New("embeddings request throttled", goerr.V("status", resp.Status))
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, -1, goerr.New("embeddings request rejected", goerr.V("status", resp.Status), goerr.V("body", string(body)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryDelay(attempt), goerr.Wrap(err, "failed to read embeddings response")
	}
	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, 0, nil
		}
	}
	// Fallback to Ollama-native shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, 0, nil
	}
	return nil, -1, goerr.New("no embedding returned", goerr.V("url", url))
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
