package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ongoingai/agenttrace/internal/capture"
	"github.com/ongoingai/agenttrace/internal/config"
	"github.com/ongoingai/agenttrace/internal/correlation"
	"github.com/ongoingai/agenttrace/internal/exporter"
	"github.com/ongoingai/agenttrace/internal/trace"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		input         string
		wantEndpoint  string
		wantInsecure  bool
		wantErrSubstr string
	}{
		{name: "host and port", input: "collector:4318", wantEndpoint: "collector:4318"},
		{name: "http url", input: "http://collector:4318", wantEndpoint: "collector:4318", wantInsecure: true},
		{name: "https url", input: "https://collector:4318", wantEndpoint: "collector:4318"},
		{name: "invalid scheme", input: "ftp://collector:4318", wantErrSubstr: "scheme must be http or https"},
		{name: "empty endpoint", input: "   ", wantErrSubstr: "must not be empty"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotEndpoint, gotInsecure, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErrSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Fatalf("normalizeOTLPEndpoint(%q) error=%v, want %q", tt.input, err, tt.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOTLPEndpoint(%q) error=%v", tt.input, err)
			}
			if gotEndpoint != tt.wantEndpoint || gotInsecure != tt.wantInsecure {
				t.Fatalf("got (%q,%v), want (%q,%v)", gotEndpoint, gotInsecure, tt.wantEndpoint, tt.wantInsecure)
			}
		})
	}
}

func TestRoutePatternForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/health", want: "/api/health"},
		{path: "/api/traces", want: "/api/traces"},
		{path: "/api/ingest", want: "/api/ingest"},
		{path: "/api/traces/0192f0c1", want: "/api/traces/{id}"},
		{path: "/api/traces/0192f0c1/spans", want: "/api/traces/{id}/spans"},
		{path: "/api/span/abc/details", want: "/api/span/{id}/details"},
		{path: "/api/unknown/a/b/c", want: "/api/*"},
		{path: "/favicon.ico", want: "/other"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := routePatternForPath(tt.path); got != tt.want {
				t.Fatalf("routePatternForPath(%q)=%q, want %q", tt.path, got, tt.want)
			}
		})
	}
	if got := serverSpanName("", "/api/traces"); got != "UNKNOWN /api/traces" {
		t.Fatalf("serverSpanName=%q", got)
	}
}

func TestSpanCategory(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{
		"openai.chat":    "llm.openai",
		"anthropic.chat": "llm.anthropic",
		".chat":          "chain",
		"plan_trip":      "chain",
	} {
		if got := spanCategory(name); got != want {
			t.Fatalf("spanCategory(%q)=%q, want %q", name, got, want)
		}
	}
}

// sums collects every Int64 sum by metric name.
func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var metrics metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &metrics); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	out := make(map[string]int64)
	for _, scope := range metrics.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func newTestRuntime(t *testing.T) (*Runtime, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = meterProvider.Shutdown(context.Background()) })

	runtime := &Runtime{enabled: true}
	runtime.initInstruments(meterProvider.Meter("test"), nil)
	return runtime, reader
}

type brokenExporter struct{}

func (brokenExporter) ExportTrace(context.Context, *trace.Trace) error { return exporter.ErrQueueFull }
func (brokenExporter) FinishTrace(context.Context, *trace.Trace) error { return exporter.ErrQueueFull }
func (brokenExporter) ExportSpan(context.Context, *trace.Span) error { return exporter.ErrQueueFull }

func TestCaptureHooksCountSpansAndExportFailures(t *testing.T) {
	t.Parallel()

	runtime, reader := newTestRuntime(t)
	tracer := capture.NewTracer(brokenExporter{}, capture.WithHooks(runtime.CaptureHooks()))

	_, err := tracer.Capture(context.Background(), "plan_trip", func(ctx context.Context) (any, error) {
		return tracer.Capture(ctx, "openai.chat", func(context.Context) (any, error) {
			return "answer", nil
		})
	})
	if err != nil {
		t.Fatalf("Capture() error: %v", err)
	}

	got := sums(t, reader)
	if got[metricSpansCaptured] != 2 {
		t.Fatalf("%s=%d, want 2", metricSpansCaptured, got[metricSpansCaptured])
	}
	// export_trace, two export_span, finish_trace
	if got[metricExportFailures] != 4 {
		t.Fatalf("%s=%d, want 4", metricExportFailures, got[metricExportFailures])
	}
}

func TestWriterMetricsAndFailureHandler(t *testing.T) {
	t.Parallel()

	runtime, reader := newTestRuntime(t)
	metrics := runtime.WriterMetrics()
	metrics.OnDrop()
	metrics.OnDrop()
	metrics.OnFlush(3, 5*time.Millisecond)
	runtime.WriteFailureHandler(nil)(trace.WriteFailure{
		Operation:   "write_batch",
		BatchSize:   3,
		FailedCount: 3,
		Err:         errors.New("disk full"),
		ErrorClass:  trace.WriteErrorClassUnknown,
	})

	got := sums(t, reader)
	if got[metricQueueDropped] != 2 {
		t.Fatalf("%s=%d, want 2", metricQueueDropped, got[metricQueueDropped])
	}
	if got[metricExportFailures] != 3 {
		t.Fatalf("%s=%d, want 3", metricExportFailures, got[metricExportFailures])
	}
}

func TestRuntimeGuardsDoNotPanic(t *testing.T) {
	t.Parallel()

	for _, runtime := range []*Runtime{nil, {}} {
		hooks := runtime.CaptureHooks()
		hooks.OnSpan(context.Background(), "openai.chat", trace.StatusOK, time.Second)
		hooks.OnExportError(context.Background(), "export_span", errors.New("boom"))
		metrics := runtime.WriterMetrics()
		metrics.OnDrop()
		metrics.OnFlush(1, time.Millisecond)
		runtime.WriteFailureHandler(nil)(trace.WriteFailure{FailedCount: 1})

		inner := http.NotFoundHandler()
		if runtime.Enabled() {
			t.Fatal("Enabled()=true for a disabled runtime")
		}
		if err := runtime.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error: %v", err)
		}
		rec := httptest.NewRecorder()
		runtime.SpanEnrichmentMiddleware(runtime.WrapHTTPHandler(inner)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status=%d, want passthrough 404", rec.Code)
		}
	}
}

func TestSpanEnrichmentMiddleware(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	runtime := &Runtime{enabled: true}
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tp.Tracer("test").Start(r.Context(), "server")
		defer span.End()
		correlation.Middleware(runtime.SpanEnrichmentMiddleware(failing)).ServeHTTP(w, r.WithContext(ctx))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/traces", nil)
	req.Header.Set(correlation.HeaderName, "req-otel-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans=%d, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("status=%v, want error on 502", ended[0].Status())
	}
	found := false
	for _, kv := range ended[0].Attributes() {
		if string(kv.Key) == "agenttrace.request_id" && kv.Value.AsString() == "req-otel-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("attributes=%v, want agenttrace.request_id", ended[0].Attributes())
	}
}

// Cannot be parallel: mutates the global OTel providers.
func TestSetupExportsTracesAndMetrics(t *testing.T) {
	oldTracerProvider := otel.GetTracerProvider()
	oldMeterProvider := otel.GetMeterProvider()
	oldPropagator := otel.GetTextMapPropagator()
	defer func() {
		otel.SetTracerProvider(oldTracerProvider)
		otel.SetMeterProvider(oldMeterProvider)
		otel.SetTextMapPropagator(oldPropagator)
	}()

	var traceRequests atomic.Int64
	var metricRequests atomic.Int64
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
		switch r.URL.Path {
		case "/v1/traces":
			traceRequests.Add(1)
		case "/v1/metrics":
			metricRequests.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	runtime, err := Setup(context.Background(), config.OTelConfig{
		Enabled:                true,
		Endpoint:               collector.URL,
		ServiceName:            "agenttrace-test",
		TracesEnabled:          true,
		MetricsEnabled:         true,
		SamplingRatio:          1.0,
		ExportTimeoutMS:        1000,
		MetricExportIntervalMS: 25,
	}, "test", nil)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	tracer := capture.NewTracer(exporter.NewMemory(), capture.WithHooks(runtime.CaptureHooks()))
	if _, err := tracer.Capture(context.Background(), "plan_trip", func(context.Context) (any, error) {
		return "done", nil
	}); err != nil {
		t.Fatalf("Capture() error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("runtime.Shutdown() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return traceRequests.Load() > 0 && metricRequests.Load() > 0
	})
}

func waitFor(t *testing.T, timeout time.Duration, predicate func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
