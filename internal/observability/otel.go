package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenttrace/internal/capture"
	"github.com/ongoingai/agenttrace/internal/config"
	"github.com/ongoingai/agenttrace/internal/correlation"
	"github.com/ongoingai/agenttrace/internal/trace"
)

const instrumentationName = "github.com/ongoingai/agenttrace"

const (
	metricSpansCaptured  = "agenttrace_spans_captured_total"
	metricExportFailures = "agenttrace_export_failures_total"
	metricQueueDropped   = "agenttrace_queue_dropped_total"
	metricFlushDuration  = "agenttrace_writer_flush_duration_seconds"
)

// Runtime owns the OpenTelemetry providers and the agenttrace counters.
type Runtime struct {
	enabled bool

	spansCaptured  metric.Int64Counter
	exportFailures metric.Int64Counter
	queueDropped   metric.Int64Counter
	flushDuration  metric.Float64Histogram

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and counters. A disabled config
// returns a Runtime whose hooks are no-ops.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An explicit scheme wins over the insecure toggle.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceExporterOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceExporterOptions = append(traceExporterOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(newScrubbingExporter(traceExporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricExporterOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricExporterOptions = append(metricExporterOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(metricInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	runtime.initInstruments(otel.Meter(instrumentationName), logger)
	runtime.enabled = true

	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

func (r *Runtime) initInstruments(meter metric.Meter, logger *slog.Logger) {
	warn := func(name string, err error) {
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry instrument", "metric", name, "error", err)
		}
	}

	var err error
	r.spansCaptured, err = meter.Int64Counter(
		metricSpansCaptured,
		metric.WithDescription("Count of spans finished by the capture layer."),
	)
	warn(metricSpansCaptured, err)

	r.exportFailures, err = meter.Int64Counter(
		metricExportFailures,
		metric.WithDescription("Count of trace and span exports that failed or were dropped after capture."),
	)
	warn(metricExportFailures, err)

	r.queueDropped, err = meter.Int64Counter(
		metricQueueDropped,
		metric.WithDescription("Count of records dropped because the async write queue was full."),
	)
	warn(metricQueueDropped, err)

	r.flushDuration, err = meter.Float64Histogram(
		metricFlushDuration,
		metric.WithDescription("Duration of write queue batch flushes."),
		metric.WithUnit("s"),
	)
	warn(metricFlushDuration, err)
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// CaptureHooks returns the hooks that feed capture events into the counters.
func (r *Runtime) CaptureHooks() capture.Hooks {
	return capture.Hooks{
		OnSpan: func(ctx context.Context, name, status string, _ time.Duration) {
			r.RecordSpanCaptured(ctx, name, status)
		},
		OnExportError: func(ctx context.Context, operation string, _ error) {
			r.RecordExportFailure(ctx, operation, 1)
		},
	}
}

// WriterMetrics returns the callbacks the async trace writer invokes.
func (r *Runtime) WriterMetrics() *trace.WriterMetrics {
	return &trace.WriterMetrics{
		OnDrop: func() { r.RecordQueueDrop(context.Background()) },
		OnFlush: func(batchSize int, duration time.Duration) {
			if !r.Enabled() || r.flushDuration == nil {
				return
			}
			r.flushDuration.Record(
				context.Background(),
				duration.Seconds(),
				metric.WithAttributes(attribute.Int("batch_size", batchSize)),
			)
		},
	}
}

// WriteFailureHandler counts records lost after storage write failures.
func (r *Runtime) WriteFailureHandler(logger *slog.Logger) trace.WriteFailureHandler {
	return func(failure trace.WriteFailure) {
		if logger != nil {
			logger.Error(
				"trace write failed",
				"operation", failure.Operation,
				"batch_size", failure.BatchSize,
				"failed_count", failure.FailedCount,
				"error_class", failure.ErrorClass,
				"error", failure.Err,
			)
		}
		r.RecordExportFailure(context.Background(), failure.Operation, failure.FailedCount)
	}
}

func (r *Runtime) RecordSpanCaptured(ctx context.Context, name, status string) {
	if !r.Enabled() || r.spansCaptured == nil {
		return
	}
	r.spansCaptured.Add(ctx, 1, metric.WithAttributes(
		attribute.String("span_kind", spanCategory(name)),
		attribute.String("status", status),
	))
}

func (r *Runtime) RecordExportFailure(ctx context.Context, operation string, count int) {
	if !r.Enabled() || count <= 0 || r.exportFailures == nil {
		return
	}
	r.exportFailures.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
	))
}

func (r *Runtime) RecordQueueDrop(ctx context.Context) {
	if !r.Enabled() || r.queueDropped == nil {
		return
	}
	r.queueDropped.Add(ctx, 1)
}

// WrapHTTPHandler wraps the API with OpenTelemetry server spans.
func (r *Runtime) WrapHTTPHandler(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}
	return otelhttp.NewHandler(
		next,
		"agenttrace.api",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return serverSpanName(req.Method, req.URL.Path)
		}),
	)
}

// SpanEnrichmentMiddleware tags the server span with the request id and marks
// 5xx responses as errors.
func (r *Runtime) SpanEnrichmentMiddleware(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusCapturingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(recorder, req)

		span := oteltrace.SpanFromContext(req.Context())
		if !span.IsRecording() {
			return
		}
		if statusCode := recorder.StatusCode(); statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("http %d", statusCode))
		}
		if requestID, ok := correlation.FromContext(req.Context()); ok {
			span.SetAttributes(attribute.String("agenttrace.request_id", requestID))
		}
	})
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

// spanCategory keeps metric cardinality bounded: LLM calls are grouped by
// vendor, everything else is "chain".
func spanCategory(name string) string {
	if vendor, ok := strings.CutSuffix(name, ".chat"); ok && vendor != "" {
		return "llm." + vendor
	}
	return "chain"
}

// routePatternForPath maps a request path to the API route it hits.
func routePatternForPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || segments[0] != "api" {
		return "/other"
	}
	switch {
	case len(segments) == 2 && segments[1] == "health":
		return "/api/health"
	case len(segments) == 2 && segments[1] == "traces":
		return "/api/traces"
	case len(segments) == 2 && segments[1] == "ingest":
		return "/api/ingest"
	case len(segments) == 3 && segments[1] == "traces":
		return "/api/traces/{id}"
	case len(segments) == 4 && segments[1] == "traces" && segments[3] == "spans":
		return "/api/traces/{id}/spans"
	case len(segments) == 4 && segments[1] == "span" && segments[3] == "details":
		return "/api/span/{id}/details"
	default:
		return "/api/*"
	}
}

func serverSpanName(method, path string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		method = "UNKNOWN"
	}
	return method + " " + routePatternForPath(path)
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusCapturingResponseWriter) StatusCode() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}
