// Package llm wraps a structured-output chat completion call behind a small
// interface, targeting an OpenAI-compatible endpoint (sashabaranov/go-openai)
// so the same client works against Ollama's /v1 shim or a hosted provider.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/geraldfingburke/hmlr/server/internal/config"
)

// Client issues structured (strict-JSON) completions against an LLM.
type Client interface {
	// Complete sends a system+user prompt pair and decodes the model's JSON
	// reply into out. One retry is attempted on failure before the error is
	// surfaced to the caller.
	Complete(ctx context.Context, system, user string, out interface{}) error

	// CompleteText sends a system+user prompt pair and returns the model's
	// raw text reply, for callers that don't need structured JSON (the
	// downstream generator call).
	CompleteText(ctx context.Context, system, user string) (string, error)
}

// openAIClient is the production Client, backed by an OpenAI-compatible
// chat completions endpoint.
type openAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewClient builds a Client from configuration, defaulting its base URL to
// an Ollama-compatible /v1 endpoint while speaking the OpenAI wire format.
func NewClient(cfg *config.Config) Client {
	oaiCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	oaiCfg.BaseURL = cfg.LLMBaseURL
	return &openAIClient{
		client:  openai.NewClientWithConfig(oaiCfg),
		model:   cfg.LLMModel,
		timeout: cfg.LLMTimeout,
	}
}

func (c *openAIClient) Complete(ctx context.Context, system, user string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := c.callWithTimeout(ctx, system, user)
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			lastErr = fmt.Errorf("decoding structured response: %w", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("llm: completion failed after retry: %w", lastErr)
}

func (c *openAIClient) CompleteText(ctx context.Context, system, user string) (string, error) {
	raw, err := c.callPlainWithTimeout(ctx, system, user)
	if err != nil {
		raw, err = c.callPlainWithTimeout(ctx, system, user)
		if err != nil {
			return "", fmt.Errorf("llm: text completion failed after retry: %w", err)
		}
	}
	return raw, nil
}

func (c *openAIClient) callPlainWithTimeout(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) callWithTimeout(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
