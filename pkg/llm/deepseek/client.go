// Package deepseek implements the llm.Provider interface for the DeepSeek
// API. DeepSeek exposes an OpenAI-compatible surface, so the OpenAI SDK is
// reused with a different base URL.
package deepseek

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/personify-ai/converse-go/pkg/llm"
)

// Client is a DeepSeek chat client.
type Client struct {
	client *openai.Client
	model  string
}

// Config configures the DeepSeek LLM client.
type Config struct {
	// APIKey is the DeepSeek API key (required).
	APIKey string

	// Model is the chat model (default: deepseek-chat).
	Model string

	// BaseURL overrides the endpoint (default: https://api.deepseek.com).
	BaseURL string
}

// NewClient creates a new DeepSeek LLM client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepseek llm: API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = "https://api.deepseek.com"
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "deepseek-chat"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate produces text for a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// GenerateWithMessages produces text for a full message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("deepseek llm: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the underlying SDK client holds no closable resources.
func (c *Client) Close() error {
	return nil
}
