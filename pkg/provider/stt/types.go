package stt

import "time"

// Transcript is one recognition result, partial or final.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal distinguishes committed results from interim guesses.
	IsFinal bool

	// Confidence in [0, 1]; zero when the provider doesn't report one.
	Confidence float64

	// Words carries per-word timing when the provider supplies it
	// (Deepgram does); nil otherwise.
	Words []WordDetail

	// Timestamp is the utterance start relative to session start.
	Timestamp time.Duration

	// Duration is the utterance length.
	Duration time.Duration
}

// WordDetail is per-word timing and confidence.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
