package llm

// Message is one turn of a conversation as sent to the model. The gateway
// builds these from session history plus the current transcript.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the speaker in multi-party transcripts.
	Name string

	// ToolCalls holds tool invocations the assistant asked for.
	ToolCalls []ToolCall

	// ToolCallID ties a "tool"-role message back to the call it answers.
	ToolCallID string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the tool's arguments.
	Parameters map[string]any
}

// ModelCapabilities is static metadata about the configured model. The
// pipeline consults it before offering tools or budgeting context.
type ModelCapabilities struct {
	// ContextWindow is the combined input+output token limit.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
