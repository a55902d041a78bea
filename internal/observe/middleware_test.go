package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddlewareHarness wires an in-memory meter and tracer and swaps the
// global tracer provider for the test's lifetime, so these tests cannot run
// in parallel.
func newMiddlewareHarness(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return m, reader, exp
}

// serveThrough runs one request through the middleware-wrapped handler and
// returns the recorder plus the correlation ID the handler observed.
func serveThrough(m *Metrics, req *http.Request, status int) (*httptest.ResponseRecorder, string) {
	var cid string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddleware_AssignsCorrelationID(t *testing.T) {
	m, _, _ := newMiddlewareHarness(t)

	rec, cid := serveThrough(m, httptest.NewRequest("GET", "/ws", nil), http.StatusOK)

	if cid == "" {
		t.Fatal("handler saw no correlation ID")
	}
	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32 hex chars", len(cid))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID header = %q, handler saw %q", got, cid)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, _, exp := newMiddlewareHarness(t)

	serveThrough(m, httptest.NewRequest("GET", "/healthz", nil), http.StatusOK)

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	if spans[0].Name != "HTTP GET /healthz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /healthz")
	}
}

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	m, reader, _ := newMiddlewareHarness(t)

	serveThrough(m, httptest.NewRequest("GET", "/readyz", nil), http.StatusOK)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxgate.http.request.duration")
	if met == nil {
		t.Fatal("voxgate.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration metric has no histogram samples")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/readyz"}
	for _, kv := range dp.Attributes.ToSlice() {
		if v, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == v {
			delete(want, string(kv.Key))
		}
	}
	for k := range want {
		t.Errorf("duration sample missing attribute %q", k)
	}
}

func TestMiddleware_SpanCarriesStatusCode(t *testing.T) {
	m, _, exp := newMiddlewareHarness(t)

	rec, _ := serveThrough(m, httptest.NewRequest("GET", "/missing", nil), http.StatusNotFound)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=404")
	}
}

func TestMiddleware_ContinuesIncomingTraceContext(t *testing.T) {
	m, _, _ := newMiddlewareHarness(t)

	const upstreamTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("traceparent", "00-"+upstreamTrace+"-00f067aa0ba902b7-01")

	rec, cid := serveThrough(m, req, http.StatusOK)

	// A load balancer in front of the gateway sends traceparent; the
	// correlation ID must be that trace, not a fresh one.
	if cid != upstreamTrace {
		t.Errorf("correlation ID = %q, want upstream trace %q", cid, upstreamTrace)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstreamTrace {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstreamTrace)
	}
}
