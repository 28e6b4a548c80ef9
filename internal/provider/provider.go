package provider

import (
	"context"
	"encoding/json"
	"io"
)

// Message is a single chat turn sent to or received from a model provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the normalized request for one model call.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// IncludeReasoning asks the provider to emit its chain-of-thought;
	// downstream filtering decides whether the user ever sees it.
	IncludeReasoning bool `json:"include_reasoning,omitempty"`
}

// Usage reports token accounting when the provider includes it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResponse is the normalized non-streaming result.
type CompletionResponse struct {
	Text  string          `json:"text"`
	Usage Usage           `json:"usage"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Completer performs a non-streaming chat completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Streamer opens a server-sent-events completion stream. The caller owns the
// returned body and must close it.
type Streamer interface {
	StreamComplete(ctx context.Context, req CompletionRequest) (io.ReadCloser, error)
}

// Gateway is the full provider contract used by the chat pipeline.
type Gateway interface {
	Completer
	Streamer
}
