package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/voxgate/voxgate/internal/booking"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// Compile-time interface check.
var _ Answerer = (*Agent)(nil)

// pendingActionVar is the session variable holding a mutation that awaits
// the user's confirmation.
const pendingActionVar = "pending_action"

// Spoken replies around the confirmation flow.
const (
	actionDoneReply      = "Done."
	actionDiscardedReply = "Okay, I won't do that then."
)

const agentSystemPrompt = `You are a voice assistant that manages booking
tables through the tools provided. Use query_table to look things up before
changing anything. When the user asks for something the tools cannot do,
say so. Your replies are spoken aloud, so answer in natural conversational
sentences without markdown or lists.`

// affirmativeWords are the single words (lowercased, punctuation stripped)
// that confirm a pending action.
var affirmativeWords = map[string]struct{}{
	"yes": {}, "yeah": {}, "yep": {}, "yup": {}, "sure": {},
	"ok": {}, "okay": {}, "correct": {}, "right": {}, "confirm": {},
	"confirmed": {}, "affirmative": {}, "absolutely": {}, "definitely": {},
	"please": {}, "go": {}, "ahead": {}, "do": {}, "it": {},
}

// Agent answers booking requests by running a bounded tool loop against the
// model. Reads execute immediately; mutations are parked in the session until
// the user confirms them on the next utterance.
type Agent struct {
	provider llm.Provider
	store    booking.Store
	maxLoops int
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithMaxLoops bounds the tool-call iterations per utterance.
func WithMaxLoops(n int) AgentOption {
	return func(a *Agent) { a.maxLoops = n }
}

// WithRetryConfig overrides the retry policy for model calls.
func WithRetryConfig(cfg resilience.RetryConfig) AgentOption {
	return func(a *Agent) { a.retry = cfg }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates the booking agent over the given model and table store.
func NewAgent(provider llm.Provider, store booking.Store, opts ...AgentOption) *Agent {
	a := &Agent{
		provider: provider,
		store:    store,
		maxLoops: 10,
		retry:    resilience.RetryConfig{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnswerOnce implements [Answerer]. It resolves any pending confirmation
// first; otherwise it runs the tool loop. The pending action travels through
// q.Variables, which the caller persists with the session.
func (a *Agent) AnswerOnce(ctx context.Context, q Query) (string, error) {
	if raw, ok := q.Variables[pendingActionVar]; ok {
		delete(q.Variables, pendingActionVar)
		if !isAffirmative(q.Text) {
			return actionDiscardedReply, nil
		}
		return a.executePending(ctx, raw), nil
	}

	answer, err := a.toolLoop(ctx, q)
	if err != nil {
		a.logger.WarnContext(ctx, "agent: tool loop failed", "error", err)
		return FallbackReply, nil
	}
	if strings.TrimSpace(answer) == "" {
		return EmptyTranscriptReply, nil
	}
	return answer, nil
}

// toolLoop converses with the model until it stops calling tools or the loop
// budget runs out. A requested mutation short-circuits the loop with a
// confirmation question.
func (a *Agent) toolLoop(ctx context.Context, q Query) (string, error) {
	msgs := chatMessages(q)
	tools := toolDefinitions(a.store.Tables())

	for loop := 0; loop < a.maxLoops; loop++ {
		req := llm.CompletionRequest{
			Messages:     msgs,
			Tools:        tools,
			Temperature:  0.2,
			SystemPrompt: systemPrompt(agentSystemPrompt, q.Variables),
		}
		resp, err := resilience.RetryWithResult(ctx, a.retry, func() (*llm.CompletionResponse, error) {
			return a.provider.Complete(ctx, req)
		})
		if err != nil {
			return "", fmt.Errorf("complete: %w", err)
		}
		if resp == nil || len(resp.ToolCalls) == 0 {
			if resp == nil {
				return "", nil
			}
			return resp.Content, nil
		}

		msgs = append(msgs, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			if isMutating(call.Name) {
				action, err := parseAction(call)
				if err != nil {
					msgs = append(msgs, toolResult(call.ID, "error: "+err.Error()))
					continue
				}
				q.Variables[pendingActionVar] = action.asMap()
				return confirmationQuestion(action), nil
			}
			msgs = append(msgs, toolResult(call.ID, a.runQuery(ctx, call)))
		}
	}
	return "", fmt.Errorf("tool loop exceeded %d iterations", a.maxLoops)
}

// runQuery executes a query_table call and renders the result for the model.
func (a *Agent) runQuery(ctx context.Context, call llm.ToolCall) string {
	action, err := parseAction(call)
	if err != nil {
		return "error: " + err.Error()
	}
	rows, err := a.store.Query(ctx, action.Table, action.Filters)
	if err != nil {
		return "error: " + err.Error()
	}
	out, err := json.Marshal(rows)
	if err != nil {
		return "error: " + err.Error()
	}
	return string(out)
}

// executePending runs a confirmed mutation. The stored form is the generic
// map that survived the session round-trip.
func (a *Agent) executePending(ctx context.Context, raw any) string {
	action, err := actionFromStored(raw)
	if err != nil {
		a.logger.WarnContext(ctx, "agent: stored action unreadable", "error", err)
		return FallbackReply
	}

	switch action.Tool {
	case "insert_row":
		_, err = a.store.Insert(ctx, action.Table, action.Values)
	case "update_row":
		_, err = a.store.Update(ctx, action.Table, action.Filters, action.Values)
	case "delete_row":
		_, err = a.store.Delete(ctx, action.Table, action.Filters)
	default:
		err = fmt.Errorf("unknown pending tool %q", action.Tool)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "agent: pending action failed",
			"tool", action.Tool, "table", action.Table, "error", err)
		return FallbackReply
	}
	return actionDoneReply
}

// action is one tool invocation in a form that survives JSON session storage.
type action struct {
	Tool    string         `json:"tool"`
	Table   string         `json:"table"`
	Filters map[string]any `json:"filters,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

func (ac action) asMap() map[string]any {
	m := map[string]any{"tool": ac.Tool, "table": ac.Table}
	if len(ac.Filters) > 0 {
		m["filters"] = ac.Filters
	}
	if len(ac.Values) > 0 {
		m["values"] = ac.Values
	}
	return m
}

// parseAction decodes a tool call's JSON arguments.
func parseAction(call llm.ToolCall) (action, error) {
	var args struct {
		Table   string         `json:"table"`
		Filters map[string]any `json:"filters"`
		Values  map[string]any `json:"values"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return action{}, fmt.Errorf("tool %s: bad arguments: %w", call.Name, err)
	}
	if args.Table == "" {
		return action{}, fmt.Errorf("tool %s: missing table", call.Name)
	}
	return action{Tool: call.Name, Table: args.Table, Filters: args.Filters, Values: args.Values}, nil
}

// actionFromStored rebuilds an action from the session variable value, which
// is a map after the Redis JSON round-trip.
func actionFromStored(raw any) (action, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return action{}, err
	}
	var ac action
	if err := json.Unmarshal(data, &ac); err != nil {
		return action{}, err
	}
	if ac.Tool == "" || ac.Table == "" {
		return action{}, fmt.Errorf("incomplete stored action %v", raw)
	}
	return ac, nil
}

// confirmationQuestion phrases the parked mutation for the user.
func confirmationQuestion(ac action) string {
	switch ac.Tool {
	case "insert_row":
		return fmt.Sprintf("You'd like me to add an entry to %s with %s. Should I go ahead?",
			ac.Table, renderPairs(ac.Values))
	case "update_row":
		return fmt.Sprintf("You'd like me to update %s where %s, setting %s. Should I go ahead?",
			ac.Table, renderPairs(ac.Filters), renderPairs(ac.Values))
	default:
		return fmt.Sprintf("You'd like me to delete from %s where %s. Should I go ahead?",
			ac.Table, renderPairs(ac.Filters))
	}
}

// renderPairs speaks a column map as "name Ada and guests 2".
func renderPairs(m map[string]any) string {
	if len(m) == 0 {
		return "no conditions"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %v", k, m[k]))
	}
	return strings.Join(parts, " and ")
}

func isMutating(tool string) bool {
	switch tool {
	case "insert_row", "update_row", "delete_row":
		return true
	}
	return false
}

// isAffirmative reports whether the utterance confirms the pending action.
// Every word must be affirmative so "yes delete everything else too" does
// not slip through as consent.
func isAffirmative(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if _, ok := affirmativeWords[strings.Trim(f, ".,!?")]; !ok {
			return false
		}
	}
	return true
}

func toolResult(callID, content string) llm.Message {
	return llm.Message{Role: "tool", ToolCallID: callID, Content: content}
}

// toolDefinitions builds the four table tools, with the table parameter
// constrained to the allowlist.
func toolDefinitions(tables []string) []llm.ToolDefinition {
	tableProp := map[string]any{
		"type":        "string",
		"description": "Table to operate on.",
		"enum":        tables,
	}
	filtersProp := map[string]any{
		"type":        "object",
		"description": "Equality filters, AND-combined. Empty matches every row.",
	}
	valuesProp := map[string]any{
		"type":        "object",
		"description": "Column values to write.",
	}

	return []llm.ToolDefinition{
		{
			Name:        "query_table",
			Description: "Look up rows in a table.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"table": tableProp, "filters": filtersProp},
				"required":   []string{"table"},
			},
		},
		{
			Name:        "insert_row",
			Description: "Add one row to a table. The user is asked to confirm first.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"table": tableProp, "values": valuesProp},
				"required":   []string{"table", "values"},
			},
		},
		{
			Name:        "update_row",
			Description: "Change matching rows in a table. The user is asked to confirm first.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"table": tableProp, "filters": filtersProp, "values": valuesProp},
				"required":   []string{"table", "values"},
			},
		},
		{
			Name:        "delete_row",
			Description: "Remove matching rows from a table. The user is asked to confirm first.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"table": tableProp, "filters": filtersProp},
				"required":   []string{"table", "filters"},
			},
		},
	}
}
