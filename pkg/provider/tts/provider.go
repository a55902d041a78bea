// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Google Cloud TTS or
// ElevenLabs) and presents a uniform request/response interface. Synthesis is
// sentence-granular: callers submit one sentence at a time and receive encoded
// audio together with word-level timing marks, which downstream consumers use
// to drive caption highlighting in step with playback.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (the sentence pipeline fans out across a worker pool).
type Provider interface {
	// Synthesize converts req.Text into encoded audio. The result carries the
	// audio bytes (MP3 unless the implementation documents otherwise) and one
	// timing Mark per word, ordered by time.
	//
	// Implementations that cannot produce word timings must still return a
	// non-nil Timings slice (possibly empty) so callers can range over it
	// without a nil check.
	//
	// Returns an error if synthesis fails or ctx is cancelled.
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
