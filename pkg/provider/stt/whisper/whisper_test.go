package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceServer answers POST /inference with the given transcript text and
// counts matched requests in calls when non-nil.
func inferenceServer(t *testing.T, text string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

// makeSpeechPCM is `samples` 16-bit samples of a 440 Hz sine at amplitude
// 10000, RMS about 7071, far above the silence gate.
func makeSpeechPCM(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// makeSilencePCM is `samples` zero-valued 16-bit samples, RMS 0.
func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

// openSession builds a provider against serverURL with a fast silence
// threshold and opens a 16 kHz mono session.
func openSession(t *testing.T, serverURL string, opts ...whisper.Option) stt.SessionHandle {
	t.Helper()
	base := []whisper.Option{
		whisper.WithSilenceThresholdMs(100),
		whisper.WithSampleRate(16000),
	}
	p, err := whisper.New(serverURL, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	return h
}

// ---- provider construction --------------------------------------------------

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("empty serverURL accepted")
	}
}

func TestNew_AcceptsOptions(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(16000),
		whisper.WithSilenceThresholdMs(300),
		whisper.WithMaxBufferDurationMs(5000),
	)
	if err != nil || p == nil {
		t.Fatalf("New with options = %v, %v", p, err)
	}
}

// ---- session creation -------------------------------------------------------

func TestStartStream_ChannelsReady(t *testing.T) {
	t.Parallel()
	srv := inferenceServer(t, "", nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	defer h.Close()

	if h.Partials() == nil || h.Finals() == nil {
		t.Error("transcript channels not initialized")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("StartStream succeeded on a cancelled context")
	}
}

func TestStartStream_EncodingSupport(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The HTTP provider only takes raw PCM; containerized Opus needs a
	// provider that can demux it.
	for _, enc := range []stt.Encoding{stt.EncodingWebMOpus, stt.EncodingOggOpus} {
		if _, err := p.StartStream(context.Background(), stt.StreamConfig{Encoding: enc}); err == nil {
			t.Errorf("encoding %q accepted", enc)
		}
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000, Channels: 1, Encoding: stt.EncodingLinear16,
	})
	if err != nil {
		t.Fatalf("linear16 rejected: %v", err)
	}
	h.Close()
}

// ---- silence segmentation ---------------------------------------------------

func TestSilenceAloneDoesNotTriggerInference(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := inferenceServer(t, "unexpected", &calls)
	defer srv.Close()

	h := openSession(t, srv.URL, whisper.WithSilenceThresholdMs(50))

	// One second of silence.
	_ = h.SendAudio(makeSilencePCM(16000))
	time.Sleep(150 * time.Millisecond)
	h.Close()

	if n := calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) for silence-only audio", n)
	}
}

func TestSpeechThenSilenceFlushesSegment(t *testing.T) {
	t.Parallel()
	const want = "what time do you open tomorrow"
	srv := inferenceServer(t, want, nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	defer h.Close()

	// 100ms speech, then 100ms silence to cross the threshold.
	if err := h.SendAudio(makeSpeechPCM(1600)); err != nil {
		t.Fatalf("SendAudio speech: %v", err)
	}
	if err := h.SendAudio(makeSilencePCM(1600)); err != nil {
		t.Fatalf("SendAudio silence: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != want {
			t.Errorf("final = %q, want %q", tr.Text, want)
		}
		if !tr.IsFinal {
			t.Error("final transcript has IsFinal = false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no final transcript after speech followed by silence")
	}
}

func TestPartialMirrorsFinal(t *testing.T) {
	t.Parallel()
	const want = "book a table for two"
	srv := inferenceServer(t, want, nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	defer h.Close()

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	select {
	case tr := <-h.Partials():
		if tr.Text != want {
			t.Errorf("partial = %q, want %q", tr.Text, want)
		}
		if tr.IsFinal {
			t.Error("partial transcript has IsFinal = true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no partial transcript emitted")
	}
}

func TestMaxBufferForcesFlushMidSpeech(t *testing.T) {
	t.Parallel()
	const want = "and then we kept talking without any pause"
	srv := inferenceServer(t, want, nil)
	defer srv.Close()

	// Silence threshold set so high it never fires; the 200ms buffer cap
	// must flush instead.
	h := openSession(t, srv.URL,
		whisper.WithSilenceThresholdMs(10_000),
		whisper.WithMaxBufferDurationMs(200),
	)
	defer h.Close()

	// 210ms of continuous speech.
	if err := h.SendAudio(makeSpeechPCM(3360)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != want {
			t.Errorf("final = %q, want %q", tr.Text, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("buffer cap never forced a flush")
	}
}

// ---- session close ----------------------------------------------------------

func TestClose_IsIdempotentAndClosesChannels(t *testing.T) {
	t.Parallel()
	srv := inferenceServer(t, "", nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	for name, ch := range map[string]<-chan stt.Transcript{
		"partials": h.Partials(),
		"finals":   h.Finals(),
	} {
		select {
		case _, open := <-ch:
			if open {
				t.Errorf("%s channel still open after Close", name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s channel never closed", name)
		}
	}
}

func TestSendAudio_AfterClose(t *testing.T) {
	t.Parallel()
	srv := inferenceServer(t, "", nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	h.Close()
	time.Sleep(50 * time.Millisecond)

	if err := h.SendAudio(makeSpeechPCM(100)); !errors.Is(err, stt.ErrSessionClosed) {
		t.Fatalf("SendAudio after Close = %v, want stt.ErrSessionClosed", err)
	}
}

func TestClose_FlushesBufferedSpeech(t *testing.T) {
	t.Parallel()
	const want = "see you at seven"
	srv := inferenceServer(t, want, nil)
	defer srv.Close()

	// Threshold far beyond the test; only Close can flush.
	h := openSession(t, srv.URL, whisper.WithSilenceThresholdMs(60_000))

	_ = h.SendAudio(makeSpeechPCM(1600))
	time.Sleep(50 * time.Millisecond)
	h.Close()

	// Finals is closed after Close; anything it delivered must be the
	// close-flush transcript.
	for tr := range h.Finals() {
		if tr.Text != want {
			t.Errorf("close-flush transcript = %q, want %q", tr.Text, want)
		}
	}
}

// ---- error handling ---------------------------------------------------------

func TestInference_ServerErrorSurfacesAsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := openSession(t, srv.URL)

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	select {
	case tr, open := <-h.Finals():
		if open {
			t.Errorf("got final %q from a failing server", tr.Text)
		}
	case <-time.After(3 * time.Second):
	}

	h.Close()
	if err := h.Err(); !errors.Is(err, stt.ErrTransient) {
		t.Errorf("Err() = %v, want wrapped stt.ErrTransient", err)
	}
}

func TestInference_EmptyTextNotEmitted(t *testing.T) {
	t.Parallel()
	srv := inferenceServer(t, "", nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	defer h.Close()

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	select {
	case tr := <-h.Finals():
		t.Errorf("empty server text produced final %q", tr.Text)
	case <-time.After(2 * time.Second):
	}
}

// ---- concurrent use ---------------------------------------------------------

func TestConcurrentSendAudio(t *testing.T) {
	t.Parallel()
	srv := inferenceServer(t, "hello", nil)
	defer srv.Close()

	h := openSession(t, srv.URL)
	defer h.Close()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				_ = h.SendAudio(makeSpeechPCM(160))
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
