// Package llm abstracts the reasoning backend behind one Provider interface,
// so the reply pipeline streams tokens the same way whether they come from
// OpenAI, Anthropic, or an Ollama box on the same rack.
//
// Implementations must be safe for concurrent use. A channel returned by
// StreamCompletion is closed by the implementation when generation ends or
// the context is cancelled.
package llm

import "context"

// Usage is the token accounting a backend reports for one request. Counts
// are in the model's own token unit and differ between providers for the
// same text.
type Usage struct {
	// PromptTokens covers the input messages and system prompt.
	PromptTokens int

	// CompletionTokens covers the generated reply.
	CompletionTokens int

	// TotalTokens is the sum; some APIs return it directly.
	TotalTokens int
}

// CompletionRequest is everything a backend needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the conversation in order; the last one drives the reply.
	Messages []Message

	// Tools are offered to the model, which may call any of them. Check
	// Capabilities().SupportsToolCalling before setting this.
	Tools []ToolDefinition

	// Temperature in [0.0, 2.0]; 0 asks for greedy decoding.
	Temperature float64

	// MaxTokens caps the completion. Zero uses the provider default.
	MaxTokens int

	// SystemPrompt is injected ahead of the history. Backends without a
	// dedicated system slot prepend it as a "system"-role message.
	SystemPrompt string
}

// Chunk is one streamed fragment of a completion. Any combination of the
// fields may be set on a single chunk.
type Chunk struct {
	// Text is incremental reply text; empty on tool-call or finish chunks.
	Text string

	// FinishReason is non-empty only on the last chunk: "stop", "length",
	// "tool_calls", or "error".
	FinishReason string

	// ToolCalls are tool invocations the model is requesting; streaming
	// backends may spread one call across several chunks.
	ToolCalls []ToolCall
}

// CompletionResponse is the non-streaming result from Complete.
type CompletionResponse struct {
	// Content is the full reply text; empty when the model only calls tools.
	Content string

	// ToolCalls are for the caller to execute and feed back.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is a reasoning backend.
//
// Methods must propagate context cancellation promptly: a cancelled ctx
// returns, or closes the stream channel, as soon as possible.
type Provider interface {
	// StreamCompletion starts a completion and returns the chunk stream.
	// The error return covers only failures to start (bad credentials,
	// malformed request); errors mid-stream arrive as a Chunk with
	// FinishReason "error". Callers must drain the channel. The channel is
	// never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the whole reply; a convenience over
	// StreamCompletion for callers that don't want a channel.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how much of the context window the messages
	// consume. Local approximations are fine but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities reports static model metadata, constant for the life of
	// the Provider.
	Capabilities() ModelCapabilities
}
