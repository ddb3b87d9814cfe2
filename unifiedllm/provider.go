package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "gemini").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed when the stream ends, normally or not.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Optional adapter capabilities.

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// StreamingSupporter is implemented by adapters that can report whether a
// model streams natively. Adapters that do not implement it are assumed to.
type StreamingSupporter interface {
	SupportsStreaming(model string) bool
}
