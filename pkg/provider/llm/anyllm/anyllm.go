// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the gateway's
// llm.Provider interface, giving the reasoning backends one configuration
// surface for OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq,
// llama.cpp, and llamafile. The gateway picks the backend by the provider
// name from its YAML config:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// backendFactories maps config provider names onto any-llm-go constructors.
// Keys double as the supported-name list in the New error message.
var backendFactories = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    wrapFactory(anyllmoai.New),
	"anthropic": wrapFactory(anthropic.New),
	"gemini":    wrapFactory(gemini.New),
	"ollama":    wrapFactory(ollama.New),
	"deepseek":  wrapFactory(deepseek.New),
	"mistral":   wrapFactory(mistral.New),
	"groq":      wrapFactory(groq.New),
	"llamacpp":  wrapFactory(llamacpp.New),
	"llamafile": wrapFactory(llamafile.New),
}

// wrapFactory lifts a concrete backend constructor to the common
// interface-returning factory signature used by backendFactories.
func wrapFactory[P anyllmlib.Provider](newFn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return newFn(opts...)
	}
}

// Provider implements llm.Provider over an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for the named backend and model. Without an API key
// option the backend falls back to its conventional environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on); local backends like ollama
// and llamacpp need none.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	factory, ok := backendFactories[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(supportedBackends(), ", "))
	}
	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func supportedBackends() []string {
	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamCompletion implements llm.Provider. Token deltas are forwarded as
// they arrive; tool-call fragments are assembled per index and attached to
// the chunk that carries the finish reason, which is what the agent loop
// consumes.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.buildParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		calls := map[int]*llm.ToolCall{}
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}

			for i, tc := range choice.Delta.ToolCalls {
				acc, ok := calls[i]
				if !ok {
					acc = &llm.ToolCall{}
					calls[i] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Name = tc.Function.Name
				}
				acc.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason == anyllmlib.FinishReasonToolCalls ||
				(choice.FinishReason != "" && len(calls) > 0) {
				for i := 0; i < len(calls); i++ {
					if tc, ok := calls[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *tc)
					}
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel settles only after the chunk channel drains.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{Content: choice.Message.ContentString()}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// CountTokens implements llm.Provider with the ~4 chars/token heuristic; the
// history cap only needs the right order of magnitude.
// TODO: swap in tiktoken-go for per-model accuracy.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4 // role and formatting overhead
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams translates a gateway request into any-llm-go params.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

func convertMessage(m llm.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capabilityRule binds a model-name match to its capability overrides.
// Rules are checked in order; the first hit wins.
type capabilityRule struct {
	match func(string) bool
	caps  llm.ModelCapabilities
}

func prefix(p string) func(string) bool {
	return func(m string) bool { return strings.HasPrefix(m, p) }
}

func contains(subs ...string) func(string) bool {
	return func(m string) bool {
		for _, s := range subs {
			if strings.Contains(m, s) {
				return true
			}
		}
		return false
	}
}

func caps(window, maxOut int, vision, tools bool) llm.ModelCapabilities {
	return llm.ModelCapabilities{
		ContextWindow:       window,
		MaxOutputTokens:     maxOut,
		SupportsVision:      vision,
		SupportsToolCalling: tools,
		SupportsStreaming:   true,
	}
}

// capabilityRules covers the OpenAI, Anthropic, and Gemini families the
// gateway is deployed against. Specific prefixes precede family catch-alls.
var capabilityRules = []capabilityRule{
	{prefix("gpt-4o-mini"), caps(128_000, 16_384, true, true)},
	{prefix("gpt-4o"), caps(128_000, 16_384, true, true)},
	{prefix("gpt-4-turbo"), caps(128_000, 4_096, true, true)},
	{prefix("gpt-4"), caps(8_192, 4_096, false, true)},
	{prefix("gpt-3.5-turbo"), caps(16_385, 4_096, false, true)},

	{prefix("o1-mini"), caps(128_000, 65_536, false, false)},
	{prefix("o1"), caps(200_000, 100_000, true, true)},
	{prefix("o3-mini"), caps(200_000, 100_000, false, true)},
	{prefix("o3"), caps(200_000, 100_000, true, true)},

	{contains("claude-3-5-sonnet", "claude-3-sonnet"), caps(200_000, 8_192, true, true)},
	{contains("claude-3-5-haiku", "claude-3-haiku"), caps(200_000, 8_192, true, true)},
	{contains("claude-3-opus"), caps(200_000, 4_096, true, true)},
	{prefix("claude"), caps(200_000, 8_192, true, true)},

	{contains("gemini-2.0-flash"), caps(1_048_576, 8_192, true, true)},
	{contains("gemini-1.5-pro"), caps(2_097_152, 8_192, true, true)},
	{contains("gemini-1.5-flash"), caps(1_048_576, 8_192, true, true)},
	{prefix("gemini"), caps(128_000, 8_192, true, true)},
}

// modelCapabilities resolves a model name against [capabilityRules]. Unknown
// models get conservative modern defaults.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, rule := range capabilityRules {
		if rule.match(lower) {
			return rule.caps
		}
	}
	return caps(128_000, 4_096, false, true)
}
