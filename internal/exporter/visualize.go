package exporter

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ongoingai/agenttrace/internal/trace"
)

const flowWidth = 50

// Visualize renders spans as a table followed by a timeline in which each
// span is indented under its parent and drawn as a bar scaled to the trace.
func Visualize(out io.Writer, spans []*trace.Span) error {
	if len(spans) == 0 {
		_, err := fmt.Fprintln(out, "(no spans)")
		return err
	}

	ordered := make([]*trace.Span, 0, len(spans))
	for _, span := range spans {
		if span != nil {
			ordered = append(ordered, span)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartedAt.Before(ordered[j].StartedAt)
	})
	if len(ordered) == 0 {
		_, err := fmt.Fprintln(out, "(no spans)")
		return err
	}

	origin := ordered[0].StartedAt
	end := origin
	for _, span := range ordered {
		if spanEnd := span.StartedAt.Add(span.Duration); spanEnd.After(end) {
			end = spanEnd
		}
	}
	total := end.Sub(origin)
	if total <= 0 {
		total = time.Nanosecond
	}

	fmt.Fprintln(out, "Spans")
	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "NAME\tKIND\tSTART\tDURATION\tSTATUS\tTOKENS")
	for _, span := range ordered {
		fmt.Fprintf(table, "%s\t%s\t+%s\t%s\t%s\t%s\n",
			span.Name,
			valueOr(string(span.Kind), string(trace.SpanKindInternal)),
			formatMillis(span.StartedAt.Sub(origin)),
			formatMillis(span.Duration),
			valueOr(span.Status, trace.StatusUnset),
			tokenSummary(span.Attributes),
		)
	}
	if err := table.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nFlow")
	flow := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, entry := range flowOrder(ordered) {
		offset := entry.span.StartedAt.Sub(origin)
		start := int(int64(offset) * flowWidth / int64(total))
		if start >= flowWidth {
			start = flowWidth - 1
		}
		width := int(int64(entry.span.Duration) * flowWidth / int64(total))
		if width < 1 {
			width = 1
		}
		if start+width > flowWidth {
			width = flowWidth - start
		}
		bar := strings.Repeat(" ", start) + strings.Repeat("█", width) + strings.Repeat(" ", flowWidth-start-width)
		fmt.Fprintf(flow, "%s%s\t|%s|\t%s\n", strings.Repeat("  ", entry.depth), entry.span.Name, bar, formatMillis(entry.span.Duration))
	}
	return flow.Flush()
}

type flowEntry struct {
	span  *trace.Span
	depth int
}

// flowOrder lists spans depth-first from the roots, children in start
// order. Spans whose parent is not in the set are treated as roots.
func flowOrder(ordered []*trace.Span) []flowEntry {
	known := make(map[string]bool, len(ordered))
	for _, span := range ordered {
		known[span.ID] = true
	}
	children := make(map[string][]*trace.Span)
	var roots []*trace.Span
	for _, span := range ordered {
		if span.ParentID != "" && span.ParentID != span.ID && known[span.ParentID] {
			children[span.ParentID] = append(children[span.ParentID], span)
			continue
		}
		roots = append(roots, span)
	}

	entries := make([]flowEntry, 0, len(ordered))
	visited := make(map[*trace.Span]bool, len(ordered))
	var walk func(span *trace.Span, depth int)
	walk = func(span *trace.Span, depth int) {
		if visited[span] {
			return
		}
		visited[span] = true
		entries = append(entries, flowEntry{span: span, depth: depth})
		for _, child := range children[span.ID] {
			walk(child, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
	// Parent cycles leave spans unreachable from any root.
	for _, span := range ordered {
		walk(span, 0)
	}
	return entries
}

func tokenSummary(attrs map[string]any) string {
	if total, ok := trace.AttributeInt64(attrs, trace.AttrTotalTokens); ok {
		return strconv.FormatInt(total, 10)
	}
	return "-"
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 2, 64) + "ms"
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
