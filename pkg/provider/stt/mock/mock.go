// Package mock doubles the stt interfaces for tests. Provider records the
// StreamConfig it was started with; Session lets the test feed transcripts
// and inspect delivered audio.
//
//	sess := &mock.Session{
//	    PartialsCh: make(chan stt.Transcript, 1),
//	    FinalsCh:   make(chan stt.Transcript, 1),
//	}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/stt"
)

// StartStreamCall is one recorded StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider implements stt.Provider with scripted sessions.
type Provider struct {
	mu sync.Mutex

	// Sessions is consumed one per StartStream call, which scripts
	// reconnect-and-replay tests; then Session applies; with neither set a
	// fresh default Session with buffered channels is handed out.
	Session  stt.SessionHandle
	Sessions []stt.SessionHandle

	// StartStreamErr fails every StartStream call.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.StartStreamCalls)
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if idx < len(p.Sessions) {
		return p.Sessions[idx], nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}, nil
}

// StartStreamCallCount is the number of StartStream calls so far.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Reset clears recorded calls, keeping the scripted sessions.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

var _ stt.Provider = (*Provider)(nil)

// SendAudioCall is one recorded SendAudio invocation; Chunk is a copy.
type SendAudioCall struct {
	Chunk []byte
}

// Session implements stt.SessionHandle. The test owns PartialsCh and
// FinalsCh: populate them with the transcripts the consumer should see and
// close them when done, or set CloseFinalsOnClose to have Close do it.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr is returned by the first Close.
	CloseErr error

	// StreamErr is what Err reports; set it before closing FinalsCh to
	// simulate a mid-stream failure.
	StreamErr error

	// CloseFinalsOnClose makes Close close both channels so draining
	// consumers unblock.
	CloseFinalsOnClose bool

	SendAudioCalls []SendAudioCall
	CloseCallCount int

	closed bool
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SendAudioCallCount is the number of SendAudio calls so far.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	if s.CloseFinalsOnClose {
		if s.PartialsCh != nil {
			close(s.PartialsCh)
		}
		if s.FinalsCh != nil {
			close(s.FinalsCh)
		}
	}
	return s.CloseErr
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// ResetCalls clears recorded calls.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
}

var _ stt.SessionHandle = (*Session)(nil)
