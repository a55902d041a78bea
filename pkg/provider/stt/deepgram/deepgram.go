// Package deepgram streams caller audio to Deepgram's live transcription
// WebSocket and feeds the partial and final transcripts back through the
// stt.SessionHandle channels.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/provider/stt"
)

const (
	listenEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel picks the Deepgram model ("nova-3", "base", ...).
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default sample rate in Hz for raw PCM input.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider is the Deepgram-backed stt.Provider. Per-stream settings in
// stt.StreamConfig win over the provider-level defaults configured here.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New builds a Provider; apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials the live transcription endpoint and starts the send and
// receive loops for one caller utterance stream.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.receiveLoop(ctx)
	go sess.sendLoop(ctx)

	return sess, nil
}

// buildURL assembles the listen endpoint URL for cfg. Raw linear16 must
// declare its format explicitly; WebM/Ogg Opus containers carry their own
// headers, so the format params are left off and Deepgram sniffs the
// container.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(listenEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", firstNonEmpty(cfg.Model, p.model))
	q.Set("language", firstNonEmpty(cfg.Language, p.language))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")

	switch cfg.Encoding {
	case stt.EncodingWebMOpus, stt.EncodingOggOpus:
		// Self-describing container.
	default:
		sr := cfg.SampleRate
		if sr == 0 {
			sr = p.sampleRate
		}
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(sr))
		if cfg.Channels > 0 {
			q.Set("channels", strconv.Itoa(cfg.Channels))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ---- session ----

// resultsEvent is the subset of Deepgram's Results message the session needs.
type resultsEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is one live transcription stream over the WebSocket.
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	streamErr atomic.Pointer[error]
}

// SendAudio queues one chunk for the send loop.
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

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err reports the terminal stream error. Valid once Finals has closed.
func (s *session) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close asks Deepgram to flush pending audio, waits for both loops, and
// tears the socket down. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// sendLoop forwards queued audio chunks as binary frames. On shutdown it
// drains whatever is still queued so the tail of the utterance reaches
// Deepgram before CloseStream takes effect.
func (s *session) sendLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// receiveLoop decodes Results messages and routes them to the partial or
// final channel until the socket ends.
func (s *session) receiveLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.noteReadFailure(ctx, err)
			return
		}

		t, ok := decodeResults(msg)
		if !ok {
			continue
		}

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
		}
	}
}

// noteReadFailure classifies the terminal read error. Normal closure and
// caller-initiated teardown end the stream cleanly; a socket that died
// mid-utterance is marked transient so the fallback chain can reopen
// elsewhere.
func (s *session) noteReadFailure(ctx context.Context, err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	wrapped := fmt.Errorf("deepgram: read: %w: %w", stt.ErrTransient, err)
	s.streamErr.Store(&wrapped)
}

// decodeResults turns a raw WebSocket message into a Transcript. Metadata
// events, empty alternatives, and malformed payloads report ok=false and are
// skipped.
func decodeResults(data []byte) (stt.Transcript, bool) {
	var ev resultsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return stt.Transcript{}, false
	}
	if ev.Type != "Results" || len(ev.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := ev.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    ev.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
	}, true
}
