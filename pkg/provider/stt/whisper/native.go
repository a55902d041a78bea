// NativeProvider runs whisper.cpp in-process through its CGO bindings, the
// zero-network STT path for self-hosted gateways. Building it needs
// libwhisper.a and whisper.h reachable via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Provider = (*NativeProvider)(nil)

// segmentation holds the silence-gate knobs shared by the provider defaults
// and each live session.
type segmentation struct {
	sampleHz   int
	flushAfter int // ms of trailing silence that closes a segment
	capMs      int // hard segment length cap, force-flushed
}

// NativeProvider implements stt.Provider on the whisper.cpp bindings. The
// model loads once and is shared by every session; each session gets its own
// inference context, so utterances from different connections transcribe
// concurrently.
type NativeProvider struct {
	engine whisperlib.Model
	lang   string
	seg    segmentation
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language code ("en", "de", ...).
// Default "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.lang = lang }
}

// WithNativeSampleRate declares the PCM sample rate of incoming audio.
// Default 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.seg.sampleHz = rate }
}

// WithNativeSilenceThresholdMs sets how much trailing silence ends a speech
// segment and sends it to inference. Default 500ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.flushAfter = ms }
}

// WithNativeMaxBufferDurationMs caps a segment's length; longer speech is
// force-flushed. Default 10s.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.capMs = ms }
}

// NewNative loads the whisper.cpp model at modelPath. Call Close to release
// it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	engine, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		engine: engine,
		lang:   defaultLanguage,
		seg: segmentation{
			sampleHz:   defaultSampleRate,
			flushAfter: defaultSilenceThresholdMs,
			capMs:      defaultMaxBufferDurationMs,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the shared model.
func (p *NativeProvider) Close() error {
	if p.engine != nil {
		return p.engine.Close()
	}
	return nil
}

// StartStream opens a transcription session ready to accept audio. Zero or
// empty cfg fields fall back to the provider-level settings.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	seg := p.seg
	if cfg.SampleRate > 0 {
		seg.sampleHz = cfg.SampleRate
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.lang
	}
	chans := cfg.Channels
	if chans <= 0 {
		chans = 1
	}

	s := &nativeSession{
		engine: p.engine,
		lang:   lang,
		chans:  chans,
		seg:    seg,

		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.segmentLoop(ctx)

	return s, nil
}

// ---- nativeSession ----------------------------------------------------------

// nativeSession implements stt.SessionHandle. Segmentation state lives
// entirely inside segmentLoop; the exported methods only touch channels.
type nativeSession struct {
	engine whisperlib.Model
	lang   string
	chans  int
	seg    segmentation

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	streamErr atomic.Pointer[error]
}

// SendAudio queues one frame of 16-bit little-endian PCM.
func (s *nativeSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *nativeSession) Partials() <-chan stt.Transcript { return s.partials }

func (s *nativeSession) Finals() <-chan stt.Transcript { return s.finals }

// Err reports the most recent inference failure. Valid once Finals has
// closed; nil means every segment transcribed.
func (s *nativeSession) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close ends the session: remaining speech is flushed to inference and both
// transcript channels close. Idempotent.
func (s *nativeSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// segmentLoop is the single goroutine doing silence detection, buffering, and
// inference dispatch. A segment flushes when enough trailing silence
// accumulates, when the buffer cap is hit, or when the session ends.
func (s *nativeSession) segmentLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		segment   []byte
		hadSpeech bool
		quietMs   int
	)

	bytesPerMs := s.seg.sampleHz * s.chans * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	capBytes := s.seg.capMs * bytesPerMs

	flush := func() {
		pcm := segment
		spoke := hadSpeech
		segment = nil
		hadSpeech = false
		quietMs = 0
		if len(pcm) == 0 || !spoke {
			return
		}

		text, err := s.transcribe(pcm)
		if err != nil {
			slog.Error("whisper native inference failed", "error", err)
			return
		}
		if text == "" {
			return
		}
		select {
		case s.partials <- stt.Transcript{Text: text, IsFinal: false}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-s.done:
			flush()
			return

		case chunk, ok := <-s.audio:
			if !ok {
				flush()
				return
			}

			chunkMs := chunkDurationMs(chunk, s.seg.sampleHz, s.chans)
			if computeRMS(chunk) < defaultRMSThreshold {
				// Leading silence is discarded; silence after speech counts
				// toward the flush threshold and stays in the segment.
				if hadSpeech {
					quietMs += chunkMs
					segment = append(segment, chunk...)
					if quietMs >= s.seg.flushAfter {
						flush()
					}
				}
				continue
			}

			hadSpeech = true
			quietMs = 0
			segment = append(segment, chunk...)
			if capBytes > 0 && len(segment) >= capBytes {
				flush()
			}
		}
	}
}

// transcribe runs one segment through a fresh whisper context. Contexts are
// not thread-safe; the shared model is.
func (s *nativeSession) transcribe(pcm []byte) (string, error) {
	samples := pcmToFloat32Mono(pcm, s.chans)

	wctx, err := s.engine.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

var _ stt.SessionHandle = (*nativeSession)(nil)
