package tts

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "en-US-Neural2-D").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 language code of the voice, when known.
	Language string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// SpeechRequest describes a single synthesis request. Text is plain text, one
// sentence per request; providers handle any escaping their wire format needs.
type SpeechRequest struct {
	// Text is the sentence to synthesise.
	Text string

	// Voice selects the voice to use. Voice.ID must be set.
	Voice VoiceProfile

	// SampleRate is the requested output sample rate in Hz. Zero means the
	// provider default.
	SampleRate int

	// SpeakingRate adjusts speech tempo (1.0 = normal). Zero means the
	// provider default.
	SpeakingRate float64
}

// SpeechResult is the outcome of a synthesis request.
type SpeechResult struct {
	// Audio is the encoded audio payload. MP3 unless the provider documents
	// otherwise.
	Audio []byte

	// Timings holds one Mark per word of the input text, ordered by time.
	// Never nil; may be empty when the backend reports no timing data.
	Timings []Mark
}

// Mark is a word-level timing point within synthesised audio.
type Mark struct {
	// Word is the text of the word, as it appeared in the request.
	Word string

	// TimeSeconds is the offset from the start of the audio at which the word
	// begins.
	TimeSeconds float64
}
