package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/booking"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
)

func newTestAgent(p *llmmock.Provider, store booking.Store, opts ...AgentOption) *Agent {
	base := []AgentOption{
		WithMaxLoops(5),
		WithRetryConfig(resilience.RetryConfig{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	}
	return NewAgent(p, store, append(base, opts...)...)
}

func toolCallResponse(name, args string) *llm.CompletionResponse {
	return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: name, Arguments: args}}}
}

// ---- plain answers ----

func TestAgent_DirectAnswer(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "There are two bookings."}}
	a := newTestAgent(p, booking.NewMemoryStore([]string{"bookings"}))

	got, err := a.AnswerOnce(context.Background(), Query{Text: "how many bookings", Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != "There are two bookings." {
		t.Errorf("answer = %q", got)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("got %d complete calls, want 1", len(p.CompleteCalls))
	}
	if got := len(p.CompleteCalls[0].Req.Tools); got != 4 {
		t.Errorf("offered %d tools, want 4", got)
	}
}

func TestAgent_EmptyAnswerBecomesDidNotCatch(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	a := newTestAgent(p, booking.NewMemoryStore([]string{"bookings"}))

	got, _ := a.AnswerOnce(context.Background(), Query{Text: "mumble", Variables: map[string]any{}})
	if got != EmptyTranscriptReply {
		t.Errorf("answer = %q, want %q", got, EmptyTranscriptReply)
	}
}

// ---- tool loop ----

func TestAgent_QueryToolFeedsResultBack(t *testing.T) {
	t.Parallel()
	store := booking.NewMemoryStore([]string{"bookings"})
	store.Insert(context.Background(), "bookings", map[string]any{"name": "Ada", "guests": 2})

	p := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		toolCallResponse("query_table", `{"table":"bookings","filters":{"name":"Ada"}}`),
		{Content: "Ada booked for two guests."},
	}}
	a := newTestAgent(p, store)

	got, err := a.AnswerOnce(context.Background(), Query{Text: "look up Ada", Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != "Ada booked for two guests." {
		t.Errorf("answer = %q", got)
	}
	if len(p.CompleteCalls) != 2 {
		t.Fatalf("got %d complete calls, want 2", len(p.CompleteCalls))
	}

	// The second request must carry the tool result for the model to read.
	msgs := p.CompleteCalls[1].Req.Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Fatalf("last message = %+v, want a tool result for call-1", last)
	}
	if !strings.Contains(last.Content, "Ada") {
		t.Errorf("tool result should contain the row: %q", last.Content)
	}
}

func TestAgent_LoopCapReached(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse: toolCallResponse("query_table", `{"table":"bookings"}`),
	}
	a := newTestAgent(p, booking.NewMemoryStore([]string{"bookings"}), WithMaxLoops(2))

	got, err := a.AnswerOnce(context.Background(), Query{Text: "loop forever", Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != FallbackReply {
		t.Errorf("answer = %q, want the fallback", got)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("got %d complete calls, want the loop capped at 2", len(p.CompleteCalls))
	}
}

// ---- retries ----

func TestAgent_TransientErrorRetried(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{nil, {Content: "All set."}},
		CompleteErrs:      []error{errors.New("rate limited"), nil},
	}
	a := newTestAgent(p, booking.NewMemoryStore([]string{"bookings"}))

	got, err := a.AnswerOnce(context.Background(), Query{Text: "hi", Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != "All set." {
		t.Errorf("answer = %q", got)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("got %d complete calls, want 2", len(p.CompleteCalls))
	}
}

func TestAgent_PermanentFailureSpeaksFallback(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("model gone")}
	a := newTestAgent(p, booking.NewMemoryStore([]string{"bookings"}))

	got, err := a.AnswerOnce(context.Background(), Query{Text: "hi", Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("AnswerOnce should swallow the failure, got %v", err)
	}
	if got != FallbackReply {
		t.Errorf("answer = %q, want the fallback", got)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("got %d complete calls, want both retry attempts", len(p.CompleteCalls))
	}
}

// ---- two-phase confirmation ----

func TestAgent_MutationAsksForConfirmation(t *testing.T) {
	t.Parallel()
	store := booking.NewMemoryStore([]string{"bookings"})
	p := &llmmock.Provider{
		CompleteResponse: toolCallResponse("insert_row", `{"table":"bookings","values":{"name":"Ada","guests":2}}`),
	}
	a := newTestAgent(p, store)

	vars := map[string]any{}
	got, err := a.AnswerOnce(context.Background(), Query{Text: "book a table for Ada", Variables: vars})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	for _, want := range []string{"bookings", "name Ada", "guests 2", "Should I go ahead?"} {
		if !strings.Contains(got, want) {
			t.Errorf("confirmation %q missing %q", got, want)
		}
	}
	if _, ok := vars[pendingActionVar]; !ok {
		t.Error("pending action not recorded in session variables")
	}

	rows, _ := store.Query(context.Background(), "bookings", nil)
	if len(rows) != 0 {
		t.Errorf("mutation executed before confirmation: %+v", rows)
	}
}

func TestAgent_AffirmativeExecutesPendingAction(t *testing.T) {
	t.Parallel()
	store := booking.NewMemoryStore([]string{"bookings"})
	p := &llmmock.Provider{}
	a := newTestAgent(p, store)

	vars := map[string]any{pendingActionVar: map[string]any{
		"tool":   "insert_row",
		"table":  "bookings",
		"values": map[string]any{"name": "Ada", "guests": 2},
	}}
	got, err := a.AnswerOnce(context.Background(), Query{Text: "Yes, please.", Variables: vars})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != actionDoneReply {
		t.Errorf("answer = %q, want %q", got, actionDoneReply)
	}
	if _, ok := vars[pendingActionVar]; ok {
		t.Error("pending action should be cleared after execution")
	}
	if len(p.CompleteCalls) != 0 {
		t.Errorf("confirmation turn should not hit the model, got %d calls", len(p.CompleteCalls))
	}

	rows, _ := store.Query(context.Background(), "bookings", map[string]any{"name": "Ada"})
	if len(rows) != 1 {
		t.Fatalf("row not inserted: %+v", rows)
	}
}

func TestAgent_NonAffirmativeDiscardsPendingAction(t *testing.T) {
	t.Parallel()
	store := booking.NewMemoryStore([]string{"bookings"})
	a := newTestAgent(&llmmock.Provider{}, store)

	vars := map[string]any{pendingActionVar: map[string]any{
		"tool": "delete_row", "table": "bookings", "filters": map[string]any{"name": "Ada"},
	}}
	got, err := a.AnswerOnce(context.Background(), Query{Text: "actually no, forget it", Variables: vars})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != actionDiscardedReply {
		t.Errorf("answer = %q, want %q", got, actionDiscardedReply)
	}
	if _, ok := vars[pendingActionVar]; ok {
		t.Error("pending action should be discarded")
	}
}

func TestAgent_PendingActionSurvivesJSONRoundTrip(t *testing.T) {
	t.Parallel()
	// After Redis the stored map comes back with json.Number-free generic
	// types; float64 ids must still reach the store.
	store := booking.NewMemoryStore([]string{"bookings"})
	row, _ := store.Insert(context.Background(), "bookings", map[string]any{"name": "Ada", "guests": 2})
	a := newTestAgent(&llmmock.Provider{}, store)

	vars := map[string]any{pendingActionVar: map[string]any{
		"tool":    "update_row",
		"table":   "bookings",
		"filters": map[string]any{"id": float64(row["id"].(int64))},
		"values":  map[string]any{"guests": float64(4)},
	}}
	got, _ := a.AnswerOnce(context.Background(), Query{Text: "yes", Variables: vars})
	if got != actionDoneReply {
		t.Fatalf("answer = %q, want %q", got, actionDoneReply)
	}
	rows, _ := store.Query(context.Background(), "bookings", map[string]any{"guests": 4})
	if len(rows) != 1 {
		t.Errorf("update not applied: %+v", rows)
	}
}

func TestAgent_DisallowedTableReportedToModel(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		toolCallResponse("query_table", `{"table":"users"}`),
		{Content: "I can't access that table."},
	}}
	a := newTestAgent(p, booking.NewMemoryStore([]string{"bookings"}))

	got, err := a.AnswerOnce(context.Background(), Query{Text: "list users", Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("AnswerOnce: %v", err)
	}
	if got != "I can't access that table." {
		t.Errorf("answer = %q", got)
	}
	msgs := p.CompleteCalls[1].Req.Messages
	last := msgs[len(msgs)-1]
	if !strings.HasPrefix(last.Content, "error:") {
		t.Errorf("tool result should carry the error: %q", last.Content)
	}
}

// ---- helpers ----

func TestIsAffirmative(t *testing.T) {
	t.Parallel()
	yes := []string{"yes", "Yes, please.", "sure", "okay go ahead", "do it", "yep"}
	no := []string{"", "no", "yes delete everything else too", "what does that mean", "maybe later"}
	for _, s := range yes {
		if !isAffirmative(s) {
			t.Errorf("isAffirmative(%q) = false", s)
		}
	}
	for _, s := range no {
		if isAffirmative(s) {
			t.Errorf("isAffirmative(%q) = true", s)
		}
	}
}
