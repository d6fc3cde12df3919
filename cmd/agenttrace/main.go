package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ongoingai/agenttrace/internal/api"
	"github.com/ongoingai/agenttrace/internal/capture"
	"github.com/ongoingai/agenttrace/internal/config"
	"github.com/ongoingai/agenttrace/internal/correlation"
	"github.com/ongoingai/agenttrace/internal/exporter"
	"github.com/ongoingai/agenttrace/internal/ingest"
	"github.com/ongoingai/agenttrace/internal/observability"
	"github.com/ongoingai/agenttrace/internal/providers"
	"github.com/ongoingai/agenttrace/internal/trace"
	"github.com/ongoingai/agenttrace/internal/version"
)

const defaultConfigPath = "agenttrace.yaml"

const exporterShutdownTimeout = 5 * time.Second
const otelShutdownTimeout = 5 * time.Second
const serverShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		return runServe(nil, out, errOut)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(out, version.String())
		return 0
	case "serve":
		return runServe(args[1:], out, errOut)
	case "config":
		return runConfig(args[1:], out, errOut)
	case "traces":
		return runTraces(args[1:], out, errOut)
	case "view":
		return runView(args[1:], out, errOut)
	case "visualize":
		return runVisualize(args[1:], out, errOut)
	case "ingest":
		return runIngest(args[1:], out, errOut)
	case "help", "--help", "-h":
		printUsage(out)
		return 0
	default:
		printUsage(errOut)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	if _, _, err := loadAndValidateConfig(*configPath); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		printConfigError(errOut, stage, err)
		return 1
	}

	logger := newLogger(out)
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)

	store, err := openTraceStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize %s storage: %v\n", cfg.Storage.Driver, err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close trace store", "error", err)
		}
	}()

	exp, err := newExporter(context.Background(), cfg, store, otelRuntime, logger, out)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize exporter: %v\n", err)
		return 1
	}
	defer shutdownExporter(logger, exp, exporterShutdownTimeout)

	routerOptions := api.RouterOptions{
		AppVersion:    version.String(),
		Store:         store,
		StorageDriver: cfg.Storage.Driver,
		StoragePath:   cfg.Storage.Path,
		Ingester:      ingest.NewReplayer(newTracer(cfg, exp, otelRuntime, logger), providers.DefaultRegistry()),
	}
	if db, ok := exp.(*exporter.DB); ok {
		routerOptions.Pipeline = db.Writer()
	}

	var handler http.Handler = api.NewRouter(routerOptions)
	handler = requestLoggingMiddleware(logger, handler)
	handler = otelRuntime.SpanEnrichmentMiddleware(handler)
	handler = correlation.Middleware(handler)
	handler = otelRuntime.WrapHTTPHandler(handler)
	server := newServer(cfg, handler)

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"storage_driver", cfg.Storage.Driver,
		"exporter", cfg.Tracing.Exporter,
		"session_enabled", cfg.Tracing.Session.Enabled,
		"otel_enabled", otelRuntime.Enabled(),
		"config_path", *configPath,
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("server stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			return 1
		}
		return 0
	}
}

func newLogger(out io.Writer) *slog.Logger {
	return slog.New(observability.NewTraceLogHandler(
		slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

func newServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

// newExporter builds the configured exporter. Writer metrics and failure
// logging are attached when it persists to the store.
func newExporter(ctx context.Context, cfg config.Config, store trace.Store, otelRuntime *observability.Runtime, logger *slog.Logger, out io.Writer) (exporter.Exporter, error) {
	mode, err := exporter.ParseMode(cfg.Tracing.Exporter)
	if err != nil {
		return nil, err
	}
	return exporter.New(ctx, mode, exporter.Options{
		Store:          store,
		QueueSize:      cfg.Tracing.QueueSize,
		Metrics:        otelRuntime.WriterMetrics(),
		OnWriteFailure: otelRuntime.WriteFailureHandler(logger),
		Out:            out,
	})
}

func newTracer(cfg config.Config, exp exporter.Exporter, otelRuntime *observability.Runtime, logger *slog.Logger) *capture.Tracer {
	return capture.NewTracer(exp,
		capture.WithLogger(logger),
		capture.WithHooks(otelRuntime.CaptureHooks()),
		capture.WithSession(cfg.Tracing.Session.Enabled, cfg.Tracing.Session.ID),
	)
}

func shutdownExporter(logger *slog.Logger, exp exporter.Exporter, timeout time.Duration) {
	if exp == nil {
		return
	}

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := exporter.Shutdown(shutdownCtx, exp); err != nil {
		if logger != nil {
			logger.Error(
				"failed to flush pending spans before shutdown",
				"error", err,
				"timeout", timeout.String(),
			)
		}
		return
	}

	if logger != nil {
		logger.Debug("flushed pending spans before shutdown", "duration_ms", time.Since(start).Milliseconds())
	}
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  agenttrace serve [--config path/to/agenttrace.yaml]")
	fmt.Fprintln(out, "  agenttrace version")
	fmt.Fprintln(out, "  agenttrace config validate [--config path/to/agenttrace.yaml]")
	fmt.Fprintln(out, "  agenttrace traces [--config path/to/agenttrace.yaml] [--session-id ID] [--limit N] [--cursor CURSOR] [--format text|json]")
	fmt.Fprintln(out, "  agenttrace view [--config path/to/agenttrace.yaml] <trace-id>")
	fmt.Fprintln(out, "  agenttrace visualize [--config path/to/agenttrace.yaml] <trace-id>")
	fmt.Fprintln(out, "  agenttrace ingest [--config path/to/agenttrace.yaml] [--name NAME] [--session-id ID] [--format text|json] <calls.jsonl|->")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  agenttrace config validate [--config path/to/agenttrace.yaml]")
}
