package reasoning

import (
	"context"
	"errors"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// ErrStreamFailed is reported by a Stream whose underlying completion died
// mid-reply.
var ErrStreamFailed = errors.New("reasoning: completion stream failed")

// Compile-time interface check.
var _ Stream = (*chunkStream)(nil)

// chunkStream adapts an llm chunk channel to the token Stream contract.
type chunkStream struct {
	tokens chan string
	err    error
}

// adaptChunks forwards text from chunks until the source closes. A chunk
// carrying the "error" finish reason marks the stream as failed; consumers
// see the channel close and then find the error via Err.
func adaptChunks(ctx context.Context, chunks <-chan llm.Chunk) *chunkStream {
	s := &chunkStream{tokens: make(chan string)}
	go func() {
		defer close(s.tokens)
		for chunk := range chunks {
			if chunk.FinishReason == "error" {
				s.err = ErrStreamFailed
				return
			}
			if chunk.Text == "" {
				continue
			}
			select {
			case s.tokens <- chunk.Text:
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			}
		}
	}()
	return s
}

// Tokens implements [Stream].
func (s *chunkStream) Tokens() <-chan string { return s.tokens }

// Err implements [Stream]. Only valid after Tokens has closed.
func (s *chunkStream) Err() error { return s.err }
