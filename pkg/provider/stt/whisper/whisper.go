// Package whisper adapts whisper.cpp to the streaming stt contract.
//
// Two providers live here. Provider talks HTTP to a whisper-server binary
// (POST /inference); NativeProvider links the library in-process through CGO.
// whisper.cpp transcribes in batch, so both fake streaming the same way:
// buffer PCM, segment utterances with an RMS silence gate, and submit each
// finished segment as one inference. A partial and a final with identical
// text are emitted per segment; the partial only exists to drive activity
// indicators.
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThresholdMs(500),
//	)
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/stt"
)

const (
	// whisper.cpp wants 16-bit signed little-endian PCM.
	bitsPerSample = 16

	// defaultRMSThreshold is the RMS energy below which a chunk counts as
	// silence, in PCM sample units (full scale 32767).
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel names the model the server should use ("base.en", "small").
// Empty keeps whatever the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent with each inference. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.lang = lang }
}

// WithSampleRate declares the PCM sample rate of incoming audio; silence
// windows and buffer caps are computed from it. Default 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.seg.sampleHz = rate }
}

// WithSilenceThresholdMs sets how much trailing silence ends a segment and
// sends it to inference. Shorter is snappier but splits utterances more.
// Default 500ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.seg.flushAfter = ms }
}

// WithMaxBufferDurationMs caps a segment's length; continuous speech past the
// cap is force-flushed so the buffer cannot grow without bound. Default 10s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.seg.capMs = ms }
}

// Provider implements stt.Provider against a whisper-server over HTTP. Each
// session has its own buffer and goroutine; sessions from different
// connections run concurrently.
type Provider struct {
	serverURL string
	model     string
	lang      string
	seg       segmentation
	client    *http.Client
}

// New builds a Provider for the whisper-server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: serverURL,
		lang:      defaultLanguage,
		seg: segmentation{
			sampleHz:   defaultSampleRate,
			flushAfter: defaultSilenceThresholdMs,
			capMs:      defaultMaxBufferDurationMs,
		},
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session ready to accept audio. Zero or
// empty cfg fields fall back to the provider-level settings. Only raw
// linear16 audio is accepted; containerized Opus belongs to a provider that
// can decode it. No network traffic happens until the first segment flushes.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if cfg.Encoding != "" && cfg.Encoding != stt.EncodingLinear16 {
		return nil, fmt.Errorf("whisper: unsupported encoding %q", cfg.Encoding)
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

	s := &session{
		serverURL: p.serverURL,
		model:     p.model,
		lang:      lang,
		chans:     chans,
		seg:       seg,
		client:    p.client,

		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.segmentLoop(ctx)

	return s, nil
}

// ---- session ----------------------------------------------------------------

// session implements stt.SessionHandle over HTTP inference. Segmentation
// state lives entirely inside segmentLoop; the exported methods only touch
// channels.
type session struct {
	serverURL string
	model     string
	lang      string
	chans     int
	seg       segmentation
	client    *http.Client

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	streamErr atomic.Pointer[error]
}

// SendAudio queues one frame of 16-bit little-endian PCM in the format agreed
// at StartStream. After Close it returns stt.ErrSessionClosed.
func (s *session) SendAudio(chunk []byte) error {
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

// Partials emits one interim transcript per segment, carrying the same text
// as the final that follows it.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err reports the most recent inference failure, wrapped as transient. Valid
// once Finals has closed; nil means every flush succeeded.
func (s *session) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close ends the session: remaining speech is flushed to inference and both
// transcript channels close. Idempotent.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// segmentLoop is the single goroutine doing silence detection, buffering, and
// inference dispatch. A segment flushes when enough trailing silence
// accumulates, when the buffer cap is hit, or when the session ends.
func (s *session) segmentLoop(ctx context.Context) {
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

	flush := func(flushCtx context.Context) {
		pcm := segment
		spoke := hadSpeech
		segment = nil
		hadSpeech = false
		quietMs = 0
		if len(pcm) == 0 || !spoke {
			return
		}

		text, err := s.transcribe(flushCtx, pcm)
		if err != nil {
			wrapped := fmt.Errorf("whisper: inference: %w: %w", stt.ErrTransient, err)
			s.streamErr.Store(&wrapped)
			return
		}
		if text == "" {
			return
		}

		// Both channels are buffered; a full one means nobody is reading
		// during shutdown, so skip rather than block.
		select {
		case s.partials <- stt.Transcript{Text: text, IsFinal: false}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
	}

	// The closing flush must not inherit a cancelled ctx or the last
	// utterance would be lost.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return

		case <-s.done:
			finalFlush()
			return

		case chunk, ok := <-s.audio:
			if !ok {
				finalFlush()
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
						flush(ctx)
					}
				}
				continue
			}

			hadSpeech = true
			quietMs = 0
			segment = append(segment, chunk...)
			if capBytes > 0 && len(segment) >= capBytes {
				flush(ctx)
			}
		}
	}
}

// transcribe wraps pcm in a WAV container and POSTs it to /inference as
// multipart form data.
func (s *session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, s.seg.sampleHz, s.chans)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if s.lang != "" {
		if err := mw.WriteField("language", s.lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// ---- audio helpers ----------------------------------------------------------

// encodeWAV puts raw PCM in a minimal RIFF/WAV container, which is what the
// server's upload endpoint expects.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// computeRMS returns the root-mean-square energy of a 16-bit PCM buffer, in
// sample units. Buffers shorter than one sample score 0.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs converts a PCM chunk length to milliseconds of audio.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
