package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ongoingai/agenttrace/internal/exporter"
	"github.com/ongoingai/agenttrace/internal/ingest"
	"github.com/ongoingai/agenttrace/internal/providers"
	"github.com/ongoingai/agenttrace/internal/trace"
)

const defaultIngestFormat = "text"

var ingestStdin io.Reader = os.Stdin

// runIngest replays a JSON-lines file of recorded provider calls as one
// trace. "-" reads the calls from stdin.
func runIngest(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("ingest", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	name := flagSet.String("name", ingest.DefaultTraceName, "Trace name")
	sessionID := flagSet.String("session-id", "", "Session id for the trace")
	format := flagSet.String("format", defaultIngestFormat, "Output format: text or json")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: agenttrace ingest [--config path/to/agenttrace.yaml] [--name NAME] [--session-id ID] [--format text|json] <calls.jsonl|->")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("ingest", *format, defaultIngestFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	calls, err := readIngestCalls(flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "failed to read calls: %v\n", err)
		return 1
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		printConfigError(errOut, stage, err)
		return 1
	}
	mode, err := exporter.ParseMode(cfg.Tracing.Exporter)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}
	if mode == exporter.ModeMemory {
		fmt.Fprintln(errOut, "ingest needs a db or console exporter; memory would discard the trace")
		return 1
	}

	var store trace.Store
	if mode == exporter.ModeDB {
		store, err = openTraceStore(cfg)
		if err != nil {
			fmt.Fprintf(errOut, "failed to initialize trace store: %v\n", err)
			return 1
		}
		defer closeTraceStoreWithWarning(store, errOut)
	}

	logger := newLogger(errOut)
	exp, err := newExporter(context.Background(), cfg, store, nil, logger, out)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize exporter: %v\n", err)
		return 1
	}

	replayer := ingest.NewReplayer(newTracer(cfg, exp, nil, logger), providers.DefaultRegistry())
	result, replayErr := replayer.Replay(context.Background(), ingest.Batch{
		Name:      *name,
		SessionID: *sessionID,
		Calls:     calls,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), exporterShutdownTimeout)
	defer cancel()
	if err := exporter.Shutdown(shutdownCtx, exp); err != nil {
		fmt.Fprintf(errOut, "failed to flush spans: %v\n", err)
		return 1
	}
	if replayErr != nil {
		fmt.Fprintf(errOut, "failed to ingest calls: %v\n", replayErr)
		return 1
	}
	if db, ok := exp.(*exporter.DB); ok {
		if diagnostics := db.Writer().Diagnostics(); diagnostics.EnqueueDroppedTotal > 0 || diagnostics.WriteDroppedTotal > 0 {
			fmt.Fprintf(errOut, "trace is incomplete: %d records dropped at enqueue, %d at write\n",
				diagnostics.EnqueueDroppedTotal, diagnostics.WriteDroppedTotal)
			return 1
		}
	}

	if normalizedFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			fmt.Fprintf(errOut, "failed to write result: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(out, "ingested %d calls into trace %s", result.Calls, result.TraceID)
	if result.Failed > 0 {
		fmt.Fprintf(out, " (%d failed)", result.Failed)
	}
	fmt.Fprintln(out)
	return 0
}

func readIngestCalls(path string) ([]ingest.Call, error) {
	path = strings.TrimSpace(path)
	if path == "-" {
		return ingest.Decode(ingestStdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ingest.Decode(file)
}
