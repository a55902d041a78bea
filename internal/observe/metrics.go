// Package observe carries Voxgate's observability surface: OpenTelemetry
// metric instruments for every pipeline stage, trace helpers, and the HTTP
// middleware that stitches both into request handling.
//
// Instruments are created through the OTel Metrics API and exported to
// Prometheus via the bridge [InitProvider] installs, so /metrics keeps
// working for existing scrape configs. Production code reaches for
// [DefaultMetrics]; tests build their own [Metrics] from a manual reader so
// recorded values stay isolated per test.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every Voxgate instrument.
const meterName = "github.com/voxgate/voxgate"

// Metrics bundles the instruments the voice pipeline records into. The OTel
// instrument types are concurrency-safe, so a single Metrics value is shared
// across all connections.
type Metrics struct {
	// Per-stage latency histograms. STT is measured end-of-speech to
	// resolved transcript, TTS per synthesized sentence, and Reply spans the
	// whole transcript-to-last-audio-chunk path.
	STTDuration   metric.Float64Histogram
	LLMDuration   metric.Float64Histogram
	TTSDuration   metric.Float64Histogram
	ReplyDuration metric.Float64Histogram

	// Traffic counters. ProviderRequests carries provider/kind/status
	// attributes, AudioChunks a kind attribute ("filler" or "sentence"),
	// Replies mode/status. STTFramesDropped counts recognizer queue
	// overflow.
	ProviderRequests metric.Int64Counter
	STTFramesDropped metric.Int64Counter
	AudioChunks      metric.Int64Counter
	Replies          metric.Int64Counter

	// ProviderErrors carries provider/kind attributes.
	ProviderErrors metric.Int64Counter

	// Live gauges for connections, open audio streams, and running reply
	// pipelines.
	ActiveConnections metric.Int64UpDownCounter
	ActiveStreams     metric.Int64UpDownCounter
	ActiveReplies     metric.Int64UpDownCounter

	// HTTPRequestDuration backs the middleware, attributed by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers the spread voice traffic actually lands in: sentence
// synthesis sits around tens of milliseconds, a cold LLM turn can take
// seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// instrumentSink creates instruments and remembers the first failure, so
// NewMetrics reads as a flat list instead of a ladder of error checks.
type instrumentSink struct {
	meter metric.Meter
	err   error
}

func (s *instrumentSink) latency(name, desc string) metric.Float64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	s.err = err
	return h
}

func (s *instrumentSink) counter(name, desc string) metric.Int64Counter {
	if s.err != nil {
		return nil
	}
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	s.err = err
	return c
}

func (s *instrumentSink) gauge(name, desc string) metric.Int64UpDownCounter {
	if s.err != nil {
		return nil
	}
	g, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	s.err = err
	return g
}

func (s *instrumentSink) histogram(name, desc string) metric.Float64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	)
	s.err = err
	return h
}

// NewMetrics builds every Voxgate instrument against mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	sink := &instrumentSink{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration:   sink.latency("voxgate.stt.duration", "Latency of speech-to-text transcription."),
		LLMDuration:   sink.latency("voxgate.llm.duration", "Latency of LLM inference."),
		TTSDuration:   sink.latency("voxgate.tts.duration", "Latency of text-to-speech synthesis per sentence."),
		ReplyDuration: sink.latency("voxgate.reply.duration", "End-to-end reply latency from transcript to final audio chunk."),

		ProviderRequests: sink.counter("voxgate.provider.requests", "Total provider API requests by provider, kind, and status."),
		STTFramesDropped: sink.counter("voxgate.stt.frames_dropped", "Total audio frames dropped on recognizer queue overflow."),
		AudioChunks:      sink.counter("voxgate.audio.chunks", "Total audio chunks delivered to clients by kind."),
		Replies:          sink.counter("voxgate.replies", "Total completed reply streams by mode and status."),
		ProviderErrors:   sink.counter("voxgate.provider.errors", "Total provider errors by provider and kind."),

		ActiveConnections: sink.gauge("voxgate.active_connections", "Number of live client connections."),
		ActiveStreams:     sink.gauge("voxgate.active_streams", "Number of open audio input streams."),
		ActiveReplies:     sink.gauge("voxgate.active_replies", "Number of reply pipelines currently running."),

		HTTPRequestDuration: sink.histogram("voxgate.http.request.duration", "HTTP request latency by method and path."),
	}
	if sink.err != nil {
		return nil, sink.err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first call
// from the global meter provider. Instrument creation against the global
// provider cannot fail in practice, so a failure here panics rather than
// forcing an error return on every caller.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr shortens attribute.String at recording sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the request counter with the standard
// provider/kind/status attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordAudioChunk counts one delivered chunk, kind "filler" or "sentence".
func (m *Metrics) RecordAudioChunk(ctx context.Context, kind string) {
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReply counts one finished reply stream with its mode and terminal
// status.
func (m *Metrics) RecordReply(ctx context.Context, mode, status string) {
	m.Replies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordProviderError increments the error counter for provider/kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}
