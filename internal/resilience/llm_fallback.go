package resilience

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// LLMFallback presents a chain of reasoning backends as one llm.Provider.
// Each backend keeps its own breaker; a request goes to the first entry
// whose breaker admits it, and a failure moves on to the next.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback starts a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another backend to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion fails over only on the initial attempt. Once a stream is
// open, mid-stream errors reach the caller; retrying a half-spoken reply on
// another model would restart the answer.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities; static metadata does not
// fail over.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if p, ok := f.group.primary(); ok {
		return p.Capabilities()
	}
	return llm.ModelCapabilities{}
}
