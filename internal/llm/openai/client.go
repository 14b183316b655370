// Package openai implements triage.Provider on any OpenAI-compatible chat
// completions endpoint (OpenAI, Azure, Ollama, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/triagem/internal/triage"
)

// DefaultModel is used when no model is configured.
const DefaultModel = goopenai.GPT4oMini

// Client implements the Provider interface for chat completions.
type Client struct {
	client *goopenai.Client
	model  string
}

// New creates a chat client. An API key is required unless baseURL points at
// a server that does not check it.
func New(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai: API key is required for the default endpoint")
	}

	clientConfig := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: goopenai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Send runs one chat completion. The system instruction becomes the first
// message.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}

	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &triage.LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Model:      model,
		Usage: triage.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
