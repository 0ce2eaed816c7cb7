// Package llm defines the completion interface the minutes generator
// consumes. Concrete providers live in subpackages; tests use pkg/llm/mock.
package llm

import "context"

// Request is a single completion request.
type Request struct {
	// SystemPrompt, when non-empty, is sent as the system message.
	SystemPrompt string

	// UserPrompt is the rendered prompt, sent as the user message.
	UserPrompt string

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls sampling. Zero uses the provider default.
	Temperature float64
}

// Usage reports token consumption for one request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a completed request.
type Response struct {
	Content string
	Usage   Usage
}

// Provider produces completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
