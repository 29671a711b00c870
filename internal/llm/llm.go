// Package llm calls an OpenAI-compatible chat completions endpoint (Groq).
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"opsdesk/internal/remote"
)

const (
	DefaultEndpoint     = "https://api.groq.com/openai/v1"
	DefaultModel        = "llama-3.3-70b-versatile"
	DefaultSystemPrompt = "You are a helpful assistant. Generate well-formatted markdown content based on the user's request."
)

type APIError = remote.APIError

// Client is a chat completions client.
type Client struct {
	caller       remote.Caller
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// New creates a client. An empty endpoint uses DefaultEndpoint.
func New(apiKey, endpoint string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		caller: remote.Caller{
			Service:    "llm",
			BaseURL:    endpoint,
			Header:     remote.Bearer(apiKey),
			HTTPClient: httpClient,
			Timeout:    120 * time.Second,
		},
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt to model and returns the generated text. The model
// name is passed through as given; the service rejects unknown models.
func (c *Client) Complete(ctx context.Context, prompt, model, systemPrompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if systemPrompt == "" {
		systemPrompt = c.SystemPrompt
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	var resp chatResponse
	if err := c.caller.Do(ctx, "chat_completions", http.MethodPost, "chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
