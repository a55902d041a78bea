// Package pipeline turns one transcript into an ordered stream of spoken
// reply chunks: reasoning tokens are split into sentences, synthesized by a
// bounded TTS worker pool, and released to the client through an ordering
// gate that guarantees contiguous, strictly-increasing delivery.
package pipeline

import "strings"

// sentenceMarkers are the boundary markers, in priority order. Only the first
// marker found is used per extraction, so one call never splits across
// heterogeneous boundaries.
var sentenceMarkers = []string{". ", "! ", "? ", "\n"}

// Splitter accumulates streamed text and yields completed sentences.
// It is synchronous and not safe for concurrent use; the pipeline drives it
// from the single token-consumer goroutine.
type Splitter struct {
	buf string
}

// Push appends text to the buffer and returns every sentence completed by it,
// in order. Each sentence keeps its boundary marker, so concatenating the
// emitted sentences with the flushed remainder reproduces the pushed text.
// Whitespace-only sentences are dropped.
func (s *Splitter) Push(text string) []string {
	s.buf += text
	var out []string
	for {
		sentence, rest, ok := nextSentence(s.buf)
		if !ok {
			return out
		}
		s.buf = rest
		if strings.TrimSpace(sentence) != "" {
			out = append(out, sentence)
		}
	}
}

// Flush returns the remainder as a single terminal sentence and resets the
// buffer. Returns "" when only whitespace remains.
func (s *Splitter) Flush() string {
	rest := s.buf
	s.buf = ""
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}

// nextSentence extracts one completed sentence from buf, boundary marker
// included.
func nextSentence(buf string) (sentence, rest string, ok bool) {
	for _, marker := range sentenceMarkers {
		idx := strings.Index(buf, marker)
		if idx < 0 {
			continue
		}
		cut := idx + len(marker)
		return buf[:cut], buf[cut:], true
	}
	return "", buf, false
}
