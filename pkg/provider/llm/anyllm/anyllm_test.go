package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// ---- message conversion ----

func TestConvertMessage_Roles(t *testing.T) {
	tests := []struct {
		name string
		in   llm.Message
	}{
		{"system", llm.Message{Role: "system", Content: "You are a concise voice assistant."}},
		{"user", llm.Message{Role: "user", Content: "what time is it"}},
		{"assistant", llm.Message{Role: "assistant", Content: "It is 3 PM."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertMessage(tt.in)
			if got.Role != tt.in.Role {
				t.Errorf("role = %q, want %q", got.Role, tt.in.Role)
			}
			if got.ContentString() != tt.in.Content {
				t.Errorf("content = %q, want %q", got.ContentString(), tt.in.Content)
			}
		})
	}
}

func TestConvertMessage_ToolCallBecomesFunction(t *testing.T) {
	m := llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "book_table", Arguments: `{"party_size":2}`},
		},
	}
	got := convertMessage(m)
	if len(got.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Name != "book_table" || tc.Function.Arguments != `{"party_size":2}` {
		t.Errorf("function = %+v", tc.Function)
	}
}

func TestConvertMessage_ToolResult(t *testing.T) {
	got := convertMessage(llm.Message{Role: "tool", Content: "table booked", ToolCallID: "call_1"})
	if got.Role != "tool" || got.ToolCallID != "call_1" {
		t.Errorf("converted = role %q tool_call_id %q", got.Role, got.ToolCallID)
	}
	if got.ContentString() != "table booked" {
		t.Errorf("content = %q", got.ContentString())
	}
}

func TestConvertMessage_PreservesName(t *testing.T) {
	if got := convertMessage(llm.Message{Role: "user", Content: "hi", Name: "caller"}); got.Name != "caller" {
		t.Errorf("name = %q, want caller", got.Name)
	}
}

// ---- capability resolution ----

func TestModelCapabilities_KnownModels(t *testing.T) {
	tests := []struct {
		model   string
		window  int
		maxOut  int
		vision  bool
		tooling bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true, true},
		{"gpt-4o", 128_000, 16_384, true, true},
		{"gpt-4-turbo", 128_000, 4_096, true, true},
		{"gpt-4", 8_192, 4_096, false, true},
		{"gpt-3.5-turbo", 16_385, 4_096, false, true},
		{"o1-mini", 128_000, 65_536, false, false},
		{"o1", 200_000, 100_000, true, true},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true, true},
		{"claude-3-haiku-20240307", 200_000, 8_192, true, true},
		{"claude-3-opus-20240229", 200_000, 4_096, true, true},
		{"claude-future-model", 200_000, 8_192, true, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true, true},
		{"gemini-1.5-flash", 1_048_576, 8_192, true, true},
		{"gemini-pro", 128_000, 8_192, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := modelCapabilities(tt.model)
			if got.ContextWindow != tt.window || got.MaxOutputTokens != tt.maxOut {
				t.Errorf("window/max = %d/%d, want %d/%d",
					got.ContextWindow, got.MaxOutputTokens, tt.window, tt.maxOut)
			}
			if got.SupportsVision != tt.vision || got.SupportsToolCalling != tt.tooling {
				t.Errorf("vision/tooling = %v/%v, want %v/%v",
					got.SupportsVision, got.SupportsToolCalling, tt.vision, tt.tooling)
			}
			if !got.SupportsStreaming {
				t.Error("streaming must always be supported")
			}
		})
	}
}

func TestModelCapabilities_UnknownModelDefaults(t *testing.T) {
	got := modelCapabilities("in-house-voice-model")
	if got.ContextWindow <= 0 || got.MaxOutputTokens <= 0 {
		t.Errorf("defaults = %+v, want positive limits", got)
	}
	if !got.SupportsStreaming {
		t.Error("unknown models must still stream")
	}
}

func TestModelCapabilities_CaseInsensitive(t *testing.T) {
	if modelCapabilities("GPT-4O").ContextWindow != modelCapabilities("gpt-4o").ContextWindow {
		t.Error("model matching must ignore case")
	}
}

// ---- constructor ----

func TestNew_RejectsEmptyArguments(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty provider name accepted")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestNew_UnsupportedBackendNamesAlternatives(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("unsupported backend accepted")
	}
	// The error lists what the config could have said instead.
	if !strings.Contains(err.Error(), "anthropic") || !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error does not enumerate supported backends: %v", err)
	}
}

func TestNew_ConstructsConfiguredBackends(t *testing.T) {
	tests := []struct {
		backend string
		model   string
		opts    []anyllmlib.Option
	}{
		{"openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", "claude-3-5-sonnet-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New(%s): %v", tt.backend, err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("openai backend constructed without any key")
	}
}

// ---- token counting ----

func TestCountTokens_Heuristic(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	count, err := p.CountTokens(nil)
	if err != nil || count != 0 {
		t.Errorf("CountTokens(nil) = %d, %v; want 0, nil", count, err)
	}

	one, _ := p.CountTokens([]llm.Message{{Role: "user", Content: "what time is it"}})
	if one <= 0 {
		t.Fatalf("single message counted as %d tokens", one)
	}
	two, _ := p.CountTokens([]llm.Message{
		{Role: "user", Content: "what time is it"},
		{Role: "assistant", Content: "It is 3 PM. Have a nice day."},
	})
	if two <= one {
		t.Errorf("two messages counted %d tokens, one counted %d", two, one)
	}
}

func TestCapabilities_UsesConfiguredModel(t *testing.T) {
	p := &Provider{model: "claude-3-opus-20240229"}
	if got := p.Capabilities(); got != modelCapabilities("claude-3-opus-20240229") {
		t.Errorf("Capabilities() = %+v", got)
	}
}
