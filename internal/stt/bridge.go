// Package stt bridges raw client audio to a streaming speech-to-text
// provider. A [Bridge] opens one [Stream] per utterance: audio frames enter a
// bounded queue, a pump goroutine forwards them to the provider session, and
// a collector resolves the final transcript once the provider commits.
//
// Back-pressure is drop-based: when the queue is full, new frames are dropped
// with a warning rather than blocking the network reader. Transient provider
// failures are recovered at most once by replaying the buffered audio into a
// fresh session; the replay buffer has a hard byte cap beyond which the retry
// is disabled for the rest of the utterance.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/observe"
	provider "github.com/voxgate/voxgate/pkg/provider/stt"
)

// Defaults applied by New for zero-valued Config fields.
const (
	defaultQueueSize      = 200
	defaultReplayCap      = 10 << 20
	defaultTranscriptWait = 5 * time.Second
)

// Config tunes the bridge. The zero value gets sensible defaults from New.
type Config struct {
	// Stream is the audio format and recognition hints passed to the provider
	// for every session.
	Stream provider.StreamConfig

	// QueueSize bounds the frame queue between the network reader and the
	// provider session. Default 200.
	QueueSize int

	// ReplayCapBytes caps the audio kept for replay after a transient
	// provider failure. Once an utterance exceeds the cap the retry is
	// disabled and the buffer released. Default 10 MiB.
	ReplayCapBytes int

	// TranscriptWait bounds how long Transcript blocks for a result after
	// end-of-speech. Default 5s.
	TranscriptWait time.Duration
}

// Bridge opens transcription streams against a single STT provider.
type Bridge struct {
	provider provider.Provider
	cfg      Config
	metrics  *observe.Metrics
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// New creates a bridge over the given provider.
func New(p provider.Provider, cfg Config, opts ...Option) *Bridge {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ReplayCapBytes <= 0 {
		cfg.ReplayCapBytes = defaultReplayCap
	}
	if cfg.TranscriptWait <= 0 {
		cfg.TranscriptWait = defaultTranscriptWait
	}
	b := &Bridge{provider: p, cfg: cfg}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Open starts a provider session and returns a Stream ready to accept audio.
func (b *Bridge) Open(ctx context.Context) (*Stream, error) {
	sess, err := b.provider.StartStream(ctx, b.cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("stt bridge: start stream: %w", err)
	}
	s := &Stream{
		bridge:   b,
		queue:    make(chan []byte, b.cfg.QueueSize),
		eos:      make(chan struct{}),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		session:  sess,
		canRetry: true,
	}
	go s.pump()
	go s.collect(ctx, sess)
	return s, nil
}

// Stream is one utterance in flight: audio in, transcript future out.
// All methods are safe for concurrent use.
type Stream struct {
	bridge *Bridge

	queue    chan []byte
	eos      chan struct{}
	cancelCh chan struct{}

	eosOnce    sync.Once
	cancelOnce sync.Once

	// done is closed exactly once when the transcript is resolved.
	done        chan struct{}
	resolveOnce sync.Once
	transcript  string

	mu          sync.Mutex
	session     provider.SessionHandle
	buffer      [][]byte
	bufferBytes int
	canRetry    bool
	inputDone   bool
	eosAt       time.Time
}

// Push enqueues one audio frame. It never blocks: when the queue is full the
// frame is dropped with a warning. Frames pushed after EndOfSpeech or Cancel
// are ignored.
func (s *Stream) Push(frame []byte) {
	select {
	case <-s.eos:
		return
	case <-s.cancelCh:
		return
	default:
	}
	select {
	case s.queue <- slices.Clone(frame):
	default:
		slog.Warn("stt bridge: frame queue full; dropping frame", "frame_bytes", len(frame))
		s.bridge.metrics.STTFramesDropped.Add(context.Background(), 1)
	}
}

// EndOfSpeech signals that no more audio will arrive. Queued frames are
// drained to the provider and the session is closed so it commits its finals.
func (s *Stream) EndOfSpeech() {
	s.eosOnce.Do(func() {
		s.mu.Lock()
		s.eosAt = time.Now()
		s.mu.Unlock()
		close(s.eos)
	})
}

// Cancel abandons the utterance: pending audio is discarded and the
// transcript future resolves to the empty string immediately.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
	})
	s.resolve("")
}

// Transcript blocks until the transcript resolves, the configured wait
// elapses, or ctx is done. Timeout and cancellation yield the empty string.
func (s *Stream) Transcript(ctx context.Context) string {
	timer := time.NewTimer(s.bridge.cfg.TranscriptWait)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.transcript
	case <-timer.C:
		slog.Warn("stt bridge: transcript wait timed out", "wait", s.bridge.cfg.TranscriptWait)
		return ""
	case <-ctx.Done():
		return ""
	}
}

// pump moves frames from the queue to the current provider session until
// end-of-speech drains the queue or the stream is cancelled.
func (s *Stream) pump() {
	defer s.finishInput()
	for {
		select {
		case <-s.cancelCh:
			return
		case <-s.eos:
			for {
				select {
				case frame := <-s.queue:
					s.forward(frame)
				default:
					return
				}
			}
		case frame := <-s.queue:
			s.forward(frame)
		}
	}
}

// forward buffers the frame for replay (while under the cap) and sends it to
// whatever session is current.
func (s *Stream) forward(frame []byte) {
	s.mu.Lock()
	if s.canRetry {
		if s.bufferBytes+len(frame) > s.bridge.cfg.ReplayCapBytes {
			s.canRetry = false
			s.buffer = nil
			slog.Warn("stt bridge: utterance exceeds replay cap; retry disabled",
				"cap_bytes", s.bridge.cfg.ReplayCapBytes)
		} else {
			s.buffer = append(s.buffer, frame)
			s.bufferBytes += len(frame)
		}
	}
	sess := s.session
	s.mu.Unlock()

	if err := sess.SendAudio(frame); err != nil && !errors.Is(err, provider.ErrSessionClosed) {
		slog.Warn("stt bridge: send audio failed", "error", err)
	}
}

// finishInput marks the input side done and closes the current session so the
// provider flushes its finals.
func (s *Stream) finishInput() {
	s.mu.Lock()
	s.inputDone = true
	sess := s.session
	s.mu.Unlock()
	_ = sess.Close()
}

// collect drains the first session's transcripts and resolves the future,
// replaying buffered audio into a fresh session once on transient failure.
func (s *Stream) collect(ctx context.Context, first provider.SessionHandle) {
	parts := drainSession(first)

	if err := first.Err(); err != nil && !s.isCancelled() {
		if errors.Is(err, provider.ErrTransient) && s.replayEligible() {
			slog.Warn("stt bridge: transient stream failure; replaying buffered audio", "error", err)
			parts = s.replayOnce(ctx)
		} else {
			slog.Warn("stt bridge: stream failed; resolving empty transcript", "error", err)
			parts = nil
		}
	}
	if s.isCancelled() {
		parts = nil
	}
	s.resolve(strings.Join(parts, " "))
}

// replayOnce opens a fresh session, replays the complete audio buffer, and
// returns its finals. A second failure of any kind yields nil.
func (s *Stream) replayOnce(ctx context.Context) []string {
	sess, err := s.bridge.provider.StartStream(ctx, s.bridge.cfg.Stream)
	if err != nil {
		slog.Warn("stt bridge: replay session failed to start", "error", err)
		return nil
	}

	// Snapshot the buffer and route any still-arriving audio to the fresh
	// session in the same critical section, so no frame falls between.
	s.mu.Lock()
	buf := slices.Clone(s.buffer)
	inputDone := s.inputDone
	if !inputDone {
		s.session = sess
	}
	s.mu.Unlock()

	for _, frame := range buf {
		if err := sess.SendAudio(frame); err != nil {
			break
		}
	}
	if inputDone {
		_ = sess.Close()
	}

	parts := drainSession(sess)
	if s.isCancelled() {
		return nil
	}
	if err := sess.Err(); err != nil {
		slog.Warn("stt bridge: replay failed; resolving empty transcript", "error", err)
		return nil
	}
	return parts
}

// resolve publishes the transcript exactly once.
func (s *Stream) resolve(text string) {
	s.resolveOnce.Do(func() {
		s.transcript = text
		s.mu.Lock()
		eosAt := s.eosAt
		s.mu.Unlock()
		if !eosAt.IsZero() {
			s.bridge.metrics.STTDuration.Record(context.Background(), time.Since(eosAt).Seconds())
		}
		close(s.done)
	})
}

// replayEligible reports whether a transient failure may be retried.
func (s *Stream) replayEligible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canRetry && s.bufferBytes > 0
}

func (s *Stream) isCancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// drainSession consumes both transcript channels until the session ends and
// returns the non-empty final texts in order.
func drainSession(sess provider.SessionHandle) []string {
	go func() {
		for range sess.Partials() {
		}
	}()
	var parts []string
	for t := range sess.Finals() {
		if txt := strings.TrimSpace(t.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return parts
}
