package reasoning

import (
	"context"
	"fmt"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// Compile-time interface check.
var _ Streamer = (*General)(nil)

// General is the plain conversational backend: history plus the current
// utterance, no retrieval, no tools.
type General struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// GeneralOption configures a General backend.
type GeneralOption func(*General)

// WithGeneralTemperature overrides the sampling temperature.
func WithGeneralTemperature(t float64) GeneralOption {
	return func(g *General) { g.temperature = t }
}

// WithGeneralMaxTokens caps the reply length in tokens.
func WithGeneralMaxTokens(n int) GeneralOption {
	return func(g *General) { g.maxTokens = n }
}

// NewGeneral creates the conversational backend over the given model.
func NewGeneral(provider llm.Provider, opts ...GeneralOption) *General {
	g := &General{
		provider:    provider,
		temperature: 0.7,
		maxTokens:   512,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StreamTokens implements [Streamer].
func (g *General) StreamTokens(ctx context.Context, q Query) (Stream, error) {
	req := llm.CompletionRequest{
		Messages:     chatMessages(q),
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
		SystemPrompt: systemPrompt(spokenStylePrompt, q.Variables),
	}
	chunks, err := g.provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("general backend: start stream: %w", err)
	}
	return adaptChunks(ctx, chunks), nil
}
