package resilience

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/stt"
)

// STTFallback presents a chain of transcription backends as one
// stt.Provider, each entry guarded by its own breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback starts a chain with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another backend to the chain.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a session on the first backend that accepts it. Failover
// covers session setup only; a session that dies mid-utterance is the stream
// bridge's problem, which replays buffered audio into a fresh session.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
