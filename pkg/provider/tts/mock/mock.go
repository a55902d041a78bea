// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio and timing marks to consumers and to
// verify the text and voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: &tts.SpeechResult{Audio: []byte("mp3"), Timings: []tts.Mark{{Word: "hi"}}},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	res, _ := p.Synthesize(ctx, req)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the SpeechRequest passed to Synthesize.
	Req tts.SpeechRequest
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize when no scripted result
	// applies. If nil, Synthesize fabricates a result whose Audio is the
	// request text and whose Timings hold one zero-time Mark per word.
	SynthesizeResult *tts.SpeechResult

	// SynthesizeResults, if non-empty, is consumed one element per Synthesize
	// call before falling back to SynthesizeResult.
	SynthesizeResults []*tts.SpeechResult

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeErrs, if non-empty, is consumed one element per Synthesize
	// call; nil entries mean success for that call.
	SynthesizeErrs []error

	// SynthesizeDelay, if non-nil, is received from before each Synthesize
	// returns. Close or send to the channel to release a blocked call.
	SynthesizeDelay chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// Synthesize records the call and returns the next scripted result, or the
// configured defaults.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.SpeechResult, error) {
	p.mu.Lock()
	idx := len(p.SynthesizeCalls)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	delay := p.SynthesizeDelay

	var err error
	switch {
	case idx < len(p.SynthesizeErrs):
		err = p.SynthesizeErrs[idx]
	default:
		err = p.SynthesizeErr
	}

	var res *tts.SpeechResult
	if err == nil {
		switch {
		case idx < len(p.SynthesizeResults):
			res = p.SynthesizeResults[idx]
		case p.SynthesizeResult != nil:
			res = p.SynthesizeResult
		default:
			res = fabricate(req)
		}
	}
	p.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// fabricate builds a deterministic result from the request so pipeline tests
// can assert on audio content without configuring every sentence.
func fabricate(req tts.SpeechRequest) *tts.SpeechResult {
	words := strings.Fields(req.Text)
	marks := make([]tts.Mark, 0, len(words))
	for _, w := range words {
		marks = append(marks, tts.Mark{Word: w})
	}
	return &tts.SpeechResult{
		Audio:   []byte(req.Text),
		Timings: marks,
	}
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
