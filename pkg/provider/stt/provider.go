// Package stt is the streaming speech-to-text contract. A gateway connection
// opens one SessionHandle per utterance, feeds it audio frames, and reads two
// transcript streams back: quick partials for UI feedback and committed
// finals that drive the reply pipeline.
//
// Implementations must be safe for concurrent use; several sessions are open
// at once, one per connected client.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio once the session is closed.
var ErrSessionClosed = errors.New("stt: session closed")

// ErrTransient marks a stream failure the caller can recover from by opening
// a fresh session and replaying buffered audio. Providers wrap it so callers
// can test with errors.Is.
var ErrTransient = errors.New("stt: transient stream failure")

// Encoding names the format of bytes handed to SendAudio.
type Encoding string

const (
	// EncodingLinear16 is raw little-endian 16-bit PCM; sample rate and
	// channel count come from StreamConfig.
	EncodingLinear16 Encoding = "linear16"

	// EncodingWebMOpus is Opus in a WebM container, what a browser
	// MediaRecorder produces. Containerized audio is self-describing, so
	// SampleRate and Channels are ignored for it.
	EncodingWebMOpus Encoding = "webm_opus"

	// EncodingOggOpus is Opus in an Ogg container.
	EncodingOggOpus Encoding = "ogg_opus"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingLinear16, EncodingWebMOpus, EncodingOggOpus:
		return true
	}
	return false
}

// StreamConfig carries the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate in Hz. Ignored for containerized encodings.
	SampleRate int

	// Channels is the channel count; most recognizers want mono. Ignored
	// for containerized encodings.
	Channels int

	// Language is a BCP-47 tag ("en-US", "de-DE"). Empty lets providers
	// that can auto-detect do so.
	Language string

	// Model picks a provider-specific recognition model ("nova-2").
	// Empty means the provider default.
	Model string

	// Encoding of the SendAudio bytes; zero value means EncodingLinear16.
	Encoding Encoding
}

// SessionHandle is one open transcription stream. Callers own it and must
// Close it, or the provider leaks goroutines and sockets. All methods are
// safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one chunk in the session's Encoding. After Close
	// it returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses, cheap and revisable. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits committed results, the ones worth logging and sending
	// to the reasoning backend. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and releases the session; both
	// transcript channels close as a result. Idempotent.
	Close() error

	// Err is the terminal stream error, valid once Finals has closed. Nil
	// means a clean end; an error wrapping ErrTransient invites a retry
	// with a new session.
	Err() error
}

// Provider opens transcription sessions.
type Provider interface {
	// StartStream opens a session ready to accept audio. It fails when the
	// provider cannot establish the stream: bad credentials, unsupported
	// config, or a ctx already cancelled.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
