package triage

import "context"

// Provider is the interface for any generation backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is an ordered list of role-tagged messages plus a system instruction.
type LLMRequest struct {
	MaxTokens int
	System    string
	Messages  []Message
}

// Message is a single user or assistant message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse is the free-text answer of the provider.
type LLMResponse struct {
	Text       string
	StopReason string
	Usage      Usage
	Model      string
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
