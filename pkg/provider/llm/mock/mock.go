// Package mock is a scriptable llm.Provider for tests. Responses are
// configured up front; every invocation is recorded for assertions.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Hello!"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall is one recorded CountTokens invocation.
type CountTokensCall struct {
	Messages []llm.Message
}

// Provider implements llm.Provider with scripted responses. Zero-value
// response fields mean zero values and nil errors. Configure before use;
// mutating fields while a call is in flight is the caller's problem.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are sent on the StreamCompletion channel, in order,
	// before it closes. StreamErr instead fails the call up front.
	StreamChunks []llm.Chunk
	StreamErr    error

	// CompleteResponses is consumed one per Complete call, in lockstep
	// with CompleteErrs, which scripts multi-round tool loops. When the
	// script runs out, CompleteResponse and CompleteErr apply.
	CompleteResponse  *llm.CompletionResponse
	CompleteResponses []*llm.CompletionResponse
	CompleteErr       error
	CompleteErrs      []error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	StreamCalls           []StreamCall
	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

// StreamCompletion returns a channel fed with StreamChunks, or StreamErr.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete returns the next scripted response, falling back to
// CompleteResponse and CompleteErr when the script is exhausted.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if idx < len(p.CompleteResponses) {
		var err error
		if idx < len(p.CompleteErrs) {
			err = p.CompleteErrs[idx]
		}
		return p.CompleteResponses[idx], err
	}
	return p.CompleteResponse, p.CompleteErr
}

func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: msgs})
	return p.TokenCount, p.CountTokensErr
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears recorded calls, keeping the configured responses.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}

var _ llm.Provider = (*Provider)(nil)
