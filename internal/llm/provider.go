// Package llm abstracts the chat-completions provider used by the agent
// loop, in both batch and streaming form.
package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tyler-agent/tyler/pkg/models"
)

// Request is one completion call.
type Request struct {
	Model       string
	Temperature float32
	Messages    []models.ChatMessage
	Tools       []openai.Tool
}

// Response is the batch result of a completion call.
type Response struct {
	ID        string
	Model     string
	Content   string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// ToolCallDelta is a raw streamed fragment of a tool call. The provider
// emits fragments exactly as the wire delivers them; assembly into complete
// tool calls is the consumer's job.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one streamed increment of a completion.
type Chunk struct {
	// Model is the model name reported by the response.
	Model          string
	ContentDelta   string
	ToolCallDeltas []ToolCallDelta

	// FinishReason is set on the final content chunk of the response.
	FinishReason string
	// Usage arrives once, at the end of the stream, when available.
	Usage *models.Usage
	// Err terminates the stream.
	Err error
}

// Provider is a chat-completions backend.
type Provider interface {
	// Complete performs a blocking completion.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream starts a streaming completion. The returned channel is closed
	// when the stream ends; a Chunk with Err set reports failure.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
