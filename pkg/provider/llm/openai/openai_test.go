package openai

import (
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// ---- message conversion ----

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()
	tests := []struct {
		role string
		set  func(u oai.ChatCompletionMessageParamUnion) bool
	}{
		{"system", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfSystem != nil }},
		{"user", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfUser != nil }},
		{"assistant", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfAssistant != nil }},
		{"tool", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfTool != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got, err := convertMessage(llm.Message{Role: tt.role, Content: "hi", ToolCallID: "call_1"})
			if err != nil {
				t.Fatalf("convertMessage(%s): %v", tt.role, err)
			}
			if !tt.set(got) {
				t.Errorf("role %s mapped to the wrong union member", tt.role)
			}
		})
	}
}

func TestConvertMessage_AssistantToolCalls(t *testing.T) {
	t.Parallel()
	got, err := convertMessage(llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "book_table", Arguments: `{"party_size":2}`},
		},
	})
	if err != nil {
		t.Fatalf("convertMessage: %v", err)
	}
	if got.OfAssistant == nil || len(got.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("tool calls not carried: %+v", got.OfAssistant)
	}
	tc := got.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "book_table" || tc.Function.Arguments != `{"party_size":2}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestConvertMessage_ToolCarriesCallID(t *testing.T) {
	t.Parallel()
	got, err := convertMessage(llm.Message{Role: "tool", Content: "booked", ToolCallID: "call_9"})
	if err != nil {
		t.Fatalf("convertMessage: %v", err)
	}
	if got.OfTool == nil || got.OfTool.ToolCallID != "call_9" {
		t.Errorf("ToolCallID not carried: %+v", got.OfTool)
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(llm.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Fatal("unknown role accepted")
	}
}

// ---- tool-call delta accumulation ----

func TestMergeToolDelta_AssemblesFragments(t *testing.T) {
	t.Parallel()
	pending := map[int]*llm.ToolCall{}

	frag := func(idx int, id, name, args string) oai.ChatCompletionChunkChoiceDeltaToolCall {
		tc := oai.ChatCompletionChunkChoiceDeltaToolCall{Index: int64(idx), ID: id}
		tc.Function.Name = name
		tc.Function.Arguments = args
		return tc
	}

	mergeToolDelta(pending, frag(0, "call_1", "book_table", `{"party`))
	mergeToolDelta(pending, frag(0, "", "", `_size":2}`))
	mergeToolDelta(pending, frag(1, "call_2", "lookup_hours", `{}`))

	if len(pending) != 2 {
		t.Fatalf("pending calls = %d, want 2", len(pending))
	}
	if got := pending[0]; got.ID != "call_1" || got.Name != "book_table" || got.Arguments != `{"party_size":2}` {
		t.Errorf("call 0 = %+v", got)
	}
	if got := pending[1]; got.Name != "lookup_hours" || got.Arguments != `{}` {
		t.Errorf("call 1 = %+v", got)
	}
}

// ---- capability resolution ----

func TestLookupCaps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model  string
		window int
		maxOut int
		vision bool
		tools  bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true, true},
		{"gpt-4o", 128_000, 16_384, true, true},
		{"gpt-4-turbo", 128_000, 4_096, true, true},
		{"gpt-4", 8_192, 4_096, false, true},
		{"gpt-3.5-turbo", 16_385, 4_096, false, true},
		{"o1-mini", 128_000, 65_536, false, false},
		{"o1", 200_000, 100_000, true, true},
		{"o3-mini", 200_000, 100_000, false, true},
		{"o3", 200_000, 100_000, true, true},
		{"my-custom-model", 128_000, 4_096, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := lookupCaps(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.MaxOutputTokens != tt.maxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOut)
			}
			if caps.SupportsVision != tt.vision {
				t.Errorf("SupportsVision = %v, want %v", caps.SupportsVision, tt.vision)
			}
			if caps.SupportsToolCalling != tt.tools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.tools)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming = false")
			}
		})
	}
}

// ---- token counting ----

func TestCountTokens_Heuristic(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o"}

	// 11 chars rounds up to 3 tokens plus 4 of framing.
	count, err := p.CountTokens([]llm.Message{{Role: "user", Content: "Hello world"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if count != 7 {
		t.Errorf("CountTokens = %d, want 7", count)
	}
}

// ---- constructor ----

func TestNew_RejectsEmptyArguments(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty API key accepted")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestNew_AcceptsOptions(t *testing.T) {
	t.Parallel()
	_, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://proxy.internal/v1/"),
		WithOrganization("org-voxgate"),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
}
