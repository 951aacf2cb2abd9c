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

// middlewareSetup wires a manual metric reader and an in-memory span
// exporter so tests can inspect what one request produced.
func middlewareSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
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

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var seenCID string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/session", nil))

	if len(seenCID) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", seenCID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seenCID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, seenCID)
	}
}

func TestMiddlewareSpansRequest(t *testing.T) {
	m, _, exp := middlewareSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP GET /ws"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want %d", status, http.StatusNotFound)
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	m, reader, _ := middlewareSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/session", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "arkmoor.http.request.duration")
	if met == nil {
		t.Fatal("arkmoor.http.request.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("duration data = %+v, want histogram with points", met.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/session", "status": "418"}
	for _, kv := range dp.Attributes.ToSlice() {
		if exp, ok := want[string(kv.Key)]; ok && kv.Value.Emit() == exp {
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing duration attributes: %v", want)
	}
}

func TestMiddlewarePropagatesTraceContext(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var seenCID string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	if seenCID != wantTrace {
		t.Errorf("correlation ID = %q, want the inbound trace ID %q", seenCID, wantTrace)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != wantTrace {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, wantTrace)
	}
}

func TestResponseMetaUnwrapsForHijack(t *testing.T) {
	rec := httptest.NewRecorder()
	meta := &responseMeta{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := meta.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if meta.bytes != 5 {
		t.Errorf("bytes = %d, want 5", meta.bytes)
	}
	if got := meta.Unwrap(); got != http.ResponseWriter(rec) {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
