package resilience

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// TTSFallback presents a chain of synthesis backends as one tts.Provider,
// each entry guarded by its own breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback starts a chain with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another backend to the chain.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders one sentence, retrying the same request down the chain.
// Sentences are independent, so a mid-reply voice change is audible but the
// reply still completes.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.SpeechResult, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.SpeechResult, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices queries the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
