// Package llm wraps the OpenAI chat completion API for address resolution
// and listing summaries.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aluiziolira/otodombot/models"
)

// Client issues single-turn completions. Blank answers are reported as an
// empty string with a nil error.
type Client struct {
	api   *openai.Client
	model string
}

// Option customises a Client.
type Option func(*openai.ClientConfig)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *openai.ClientConfig) { c.BaseURL = u }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *openai.ClientConfig) { c.HTTPClient = h }
}

// NewClient returns a client for model authenticated with apiKey.
func NewClient(apiKey, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	if model == "" {
		model = "gpt-4o"
	}

	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}, nil
}

// ResolveAddress asks for the most precise postal address of the listing.
func (c *Client) ResolveAddress(ctx context.Context, raw models.RawListing, markup string) (string, error) {
	answer, err := c.complete(ctx, AddressPrompt(raw.AddressHint, raw.Description, markup))
	if err != nil {
		return "", fmt.Errorf("resolve address: %w", err)
	}
	return cleanAddress(answer), nil
}

// Rate produces a short evaluation of the listing.
func (c *Client) Rate(ctx context.Context, l models.Listing) (string, error) {
	answer, err := c.complete(ctx, RatingPrompt(l))
	if err != nil {
		return "", fmt.Errorf("rate listing: %w", err)
	}
	return answer, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// cleanAddress strips quoting and the refusals the model sometimes returns
// instead of an empty answer.
func cleanAddress(answer string) string {
	answer = strings.Trim(strings.TrimSpace(answer), "\"'`")
	switch strings.ToLower(strings.TrimSuffix(answer, ".")) {
	case "", "unknown", "n/a", "none", "brak":
		return ""
	}
	return answer
}
