package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	sttmock "github.com/voxgate/voxgate/pkg/provider/stt/mock"
)

func bufferedSession() *sttmock.Session {
	return &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 1),
		FinalsCh:   make(chan stt.Transcript, 1),
	}
}

func newSTTChain(primary, fallback *sttmock.Provider) *STTFallback {
	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", fallback)
	return fb
}

func TestSTTFallback_PrimaryOpensSession(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Session: bufferedSession()}
	fallback := &sttmock.Provider{}
	fb := newSTTChain(primary, fallback)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	if len(primary.StartStreamCalls) != 1 || len(fallback.StartStreamCalls) != 0 {
		t.Errorf("calls: primary %d, fallback %d; want 1, 0",
			len(primary.StartStreamCalls), len(fallback.StartStreamCalls))
	}
}

func TestSTTFallback_SetupFailureMovesDownChain(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("websocket handshake failed")}
	fallback := &sttmock.Provider{Session: bufferedSession()}
	fb := newSTTChain(primary, fallback)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	if len(fallback.StartStreamCalls) != 1 {
		t.Errorf("fallback called %d times, want 1", len(fallback.StartStreamCalls))
	}
}

func TestSTTFallback_AllFailWrapsError(t *testing.T) {
	t.Parallel()
	fb := newSTTChain(
		&sttmock.Provider{StartStreamErr: errors.New("websocket handshake failed")},
		&sttmock.Provider{StartStreamErr: errors.New("server not running")},
	)

	if _, err := fb.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
