// Package embedding provides a small HTTP client for turning chunk text into
// vectors, grounded on the same bytes.Buffer/http.Client/json.Decode shape
// ai.Service.callOllamaWithTimeout uses for its generate calls, pointed at an
// embeddings endpoint instead.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/geraldfingburke/hmlr/server/internal/config"
)

// Client computes an embedding vector for a piece of text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type request struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type response struct {
	Embedding []float32 `json:"embedding"`
}

// httpClient is the production Client, backed by an Ollama-style
// /api/embeddings endpoint.
type httpClient struct {
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
}

// NewClient builds a Client from configuration.
func NewClient(cfg *config.Config) Client {
	return &httpClient{
		baseURL: cfg.EmbeddingBaseURL,
		model:   cfg.EmbeddingModel,
		timeout: 30 * time.Second,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedOnce(ctx, text)
	if err != nil {
		vec, err = c.embedOnce(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding: request failed after retry: %w", err)
		}
	}
	return vec, nil
}

func (c *httpClient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(request{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	return decoded.Embedding, nil
}
