// Package llm defines the provider-agnostic interface for language model calls.
//
// Providers are plain text in / text out: the assistant embeds its tool
// protocol in the system prompt and parses commands back out of the reply,
// so no provider-native function calling is required.
package llm

import "context"

// Provider is the abstraction over any LLM backend (OpenAI, Gemini, a local
// OpenAI-compatible server).
type Provider interface {
	// SendMessage sends a conversation to the model and returns its reply.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request represents a full conversation sent to the model.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64 // 0 = provider default
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the model returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens"
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
