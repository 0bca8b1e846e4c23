// Package llm defines the Provider interface for Large Language Model
// backends used by the extraction adapter.
//
// The extraction protocol is strictly request/response, one prompt in and one
// JSON document out, so the interface deliberately omits streaming and tool
// calling. A provider wraps a remote or local model API (OpenAI, Anthropic,
// Ollama, …) behind a single Complete call.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"
	"errors"
)

// ErrServiceUnavailable indicates a transient backend failure (timeout,
// HTTP 5xx, rate limiting). Safe to retry.
var ErrServiceUnavailable = errors.New("llm: service unavailable")

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a model conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. Must be non-empty.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Backends send
	// the value as-is, including 0; extraction runs at 0 for determinism.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONOnly asks the backend to constrain output to a single JSON object.
	// Backends without native JSON mode ignore this; the prompt carries the
	// same instruction as a fallback.
	JSONOnly bool
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the complete text of the reply.
	Content string

	// Usage contains token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Transient failures are wrapped around [ErrServiceUnavailable] so the
	// retry layer can classify them.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
