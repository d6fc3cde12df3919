package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ongoingai/agenttrace/internal/trace"
)

const (
	defaultTracesFormat = "text"
	defaultTracesLimit  = 20
	maxTracesLimit      = 200
	tracesSchemaVersion = "traces.v1"
)

type tracesDocument struct {
	SchemaVersion string           `json:"schema_version"`
	Items         []traceListEntry `json:"items"`
	NextCursor    string           `json:"next_cursor,omitempty"`
}

type traceListEntry struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SessionID  string     `json:"session_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
}

func runTraces(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("traces", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultTracesFormat, "Output format: text or json")
	sessionID := flagSet.String("session-id", "", "Only list traces from this session")
	cursor := flagSet.String("cursor", "", "Continue from a previous page's next cursor")
	limit := flagSet.Int("limit", defaultTracesLimit, "Trace count (1-200)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "traces does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("traces", *format, defaultTracesFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *limit <= 0 || *limit > maxTracesLimit {
		fmt.Fprintf(errOut, "limit must be between 1 and %d\n", maxTracesLimit)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		printConfigError(errOut, stage, err)
		return 1
	}

	store, err := openTraceStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize trace store: %v\n", err)
		return 1
	}
	defer closeTraceStoreWithWarning(store, errOut)

	result, err := store.ListTraces(context.Background(), trace.TraceFilter{
		SessionID: strings.TrimSpace(*sessionID),
		Limit:     *limit,
		Cursor:    strings.TrimSpace(*cursor),
	})
	if err != nil {
		if errors.Is(err, trace.ErrInvalidCursor) {
			fmt.Fprintf(errOut, "invalid cursor: %q\n", *cursor)
			return 2
		}
		fmt.Fprintf(errOut, "failed to list traces: %v\n", err)
		return 1
	}

	document := tracesDocument{
		SchemaVersion: tracesSchemaVersion,
		Items:         make([]traceListEntry, 0, len(result.Items)),
		NextCursor:    result.NextCursor,
	}
	for _, item := range result.Items {
		document.Items = append(document.Items, newTraceListEntry(item))
	}

	if err := writeTraces(out, normalizedFormat, document); err != nil {
		fmt.Fprintf(errOut, "failed to write traces: %v\n", err)
		return 1
	}
	return 0
}

func newTraceListEntry(item *trace.Trace) traceListEntry {
	entry := traceListEntry{
		ID:        item.ID,
		Name:      item.Name,
		SessionID: item.SessionID,
		StartedAt: item.StartedAt.UTC(),
	}
	if !item.EndedAt.IsZero() {
		ended := item.EndedAt.UTC()
		duration := item.EndedAt.Sub(item.StartedAt).Milliseconds()
		entry.EndedAt = &ended
		entry.DurationMS = &duration
	}
	return entry
}

func writeTraces(out io.Writer, format string, document tracesDocument) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetEscapeHTML(false)
		encoder.SetIndent("", "  ")
		return encoder.Encode(document)
	}

	if len(document.Items) == 0 {
		_, err := fmt.Fprintln(out, "no traces found")
		return err
	}

	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tNAME\tSESSION\tSTARTED\tDURATION")
	for _, item := range document.Items {
		duration := "running"
		if item.DurationMS != nil {
			duration = fmt.Sprintf("%dms", *item.DurationMS)
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.Name,
			valueOrDash(item.SessionID),
			item.StartedAt.Format(time.RFC3339),
			duration,
		)
	}
	if err := table.Flush(); err != nil {
		return err
	}
	if document.NextCursor != "" {
		_, err := fmt.Fprintf(out, "\nnext cursor: %s\n", document.NextCursor)
		return err
	}
	return nil
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
