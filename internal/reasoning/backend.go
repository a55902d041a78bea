// Package reasoning produces reply text for a transcript. Three backends
// cover the interaction modes: a general conversational backend and a
// document-grounded backend stream tokens, while the booking agent answers
// in one shot after running its tool loop.
package reasoning

import (
	"context"

	"github.com/voxgate/voxgate/internal/session"
)

// Canned replies. These are also the strings the pipeline refuses to write
// into session history, so one failed turn does not pollute future prompts.
const (
	// FallbackReply is spoken when a backend fails terminally.
	FallbackReply = "I wasn't able to complete that request. Please try again."

	// EmptyTranscriptReply is spoken when recognition produced no text.
	EmptyTranscriptReply = "Sorry, I didn't quite catch that. Could you say that again?"
)

// Query is one reasoning request.
type Query struct {
	// Text is the user transcript.
	Text string

	// History holds the most recent completed exchanges, oldest first.
	History []session.Exchange

	// Document restricts document-mode retrieval to one document. Empty or
	// "all" searches every document.
	Document string

	// Variables is the session variable map. Backends may read preferences
	// from it and mutate it (the agent records its pending confirmation
	// there).
	Variables map[string]any
}

// Stream delivers reply tokens as they are generated.
type Stream interface {
	// Tokens returns the token channel. It is closed when the reply is
	// complete or the stream dies; check Err afterwards.
	Tokens() <-chan string

	// Err reports the terminal stream error. Valid once Tokens has closed.
	Err() error
}

// Streamer is a backend that generates its reply incrementally.
type Streamer interface {
	StreamTokens(ctx context.Context, q Query) (Stream, error)
}

// Answerer is a backend that produces the whole reply in one call.
type Answerer interface {
	AnswerOnce(ctx context.Context, q Query) (string, error)
}
