package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ongoingai/agenttrace/internal/exporter"
	"github.com/ongoingai/agenttrace/internal/reconstruct"
	"github.com/ongoingai/agenttrace/internal/trace"
)

// runView prints the reconstructed agent view of one trace as JSON.
func runView(args []string, out io.Writer, errOut io.Writer) int {
	traceID, store, code := openTraceForCommand("view", args, errOut)
	if store == nil {
		return code
	}
	defer closeTraceStoreWithWarning(store, errOut)

	view, err := reconstruct.Load(context.Background(), store, traceID)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load trace spans: %v\n", err)
		return 1
	}

	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(view); err != nil {
		fmt.Fprintf(errOut, "failed to write agent view: %v\n", err)
		return 1
	}
	return 0
}

// runVisualize renders the span table and timeline of one trace.
func runVisualize(args []string, out io.Writer, errOut io.Writer) int {
	traceID, store, code := openTraceForCommand("visualize", args, errOut)
	if store == nil {
		return code
	}
	defer closeTraceStoreWithWarning(store, errOut)

	spans, err := store.GetSpans(context.Background(), traceID)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load trace spans: %v\n", err)
		return 1
	}
	if err := exporter.Visualize(out, spans); err != nil {
		fmt.Fprintf(errOut, "failed to render trace: %v\n", err)
		return 1
	}
	return 0
}

// openTraceForCommand parses "[--config path] <trace-id>", opens the store and
// checks the trace exists. A nil store means the command should exit with the
// returned code.
func openTraceForCommand(command string, args []string, errOut io.Writer) (string, trace.Store, int) {
	flagSet := flag.NewFlagSet(command, flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return "", nil, 2
	}
	if flagSet.NArg() != 1 || strings.TrimSpace(flagSet.Arg(0)) == "" {
		fmt.Fprintf(errOut, "usage: agenttrace %s [--config path/to/agenttrace.yaml] <trace-id>\n", command)
		return "", nil, 2
	}
	traceID := strings.TrimSpace(flagSet.Arg(0))

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		printConfigError(errOut, stage, err)
		return "", nil, 1
	}

	store, err := openTraceStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize trace store: %v\n", err)
		return "", nil, 1
	}
	if _, err := store.GetTrace(context.Background(), traceID); err != nil {
		closeTraceStoreWithWarning(store, errOut)
		if errors.Is(err, trace.ErrNotFound) {
			fmt.Fprintf(errOut, "trace not found: %s\n", traceID)
			return "", nil, 1
		}
		fmt.Fprintf(errOut, "failed to load trace: %v\n", err)
		return "", nil, 1
	}
	return traceID, store, 0
}
