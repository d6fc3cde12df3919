package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/agenttrace/internal/reconstruct"
	"github.com/ongoingai/agenttrace/internal/trace"
)

type tracesResponse struct {
	Items      []traceSummary `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type traceSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SessionID  string     `json:"session_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
}

type traceDetail struct {
	traceSummary
	// Metadata is the decoded chain input/output recorded when the trace
	// finished.
	Metadata any `json:"metadata,omitempty"`
}

type tracePathRoute struct {
	ID     string
	Action string
}

func TracesHandler(store trace.Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}

		filter, err := parseTraceFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := store.ListTraces(r.Context(), filter)
		if err != nil {
			if errors.Is(err, trace.ErrInvalidCursor) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to list traces")
			return
		}

		items := make([]traceSummary, 0, len(result.Items))
		for _, item := range result.Items {
			items = append(items, summarizeTrace(item))
		}
		writeJSON(w, http.StatusOK, tracesResponse{
			Items:      items,
			NextCursor: result.NextCursor,
		})
	})
}

// TraceDetailHandler serves /api/traces/{id} and the agent view at
// /api/traces/{id}/spans.
func TraceDetailHandler(store trace.Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := parseTracePathRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}

		switch route.Action {
		case "":
			item, err := store.GetTrace(r.Context(), route.ID)
			if err != nil {
				if errors.Is(err, trace.ErrNotFound) {
					writeError(w, http.StatusNotFound, "trace not found")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to load trace")
				return
			}
			writeJSON(w, http.StatusOK, detailTrace(item))
		case "spans":
			view, err := reconstruct.Load(r.Context(), store, route.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load trace spans")
				return
			}
			writeJSON(w, http.StatusOK, view)
		default:
			http.NotFound(w, r)
		}
	})
}

// SpanDetailsHandler serves /api/span/{id}/details. An unknown span yields
// empty lists.
func SpanDetailsHandler(store trace.Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spanID, ok := parseSpanDetailsPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}

		details, err := store.GetSpanDetails(r.Context(), spanID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load span details")
			return
		}
		if details == nil {
			details = trace.NewSpanDetails()
		}
		writeJSON(w, http.StatusOK, details)
	})
}

func parseTraceFilter(r *http.Request) (trace.TraceFilter, error) {
	query := r.URL.Query()
	limit, err := parseIntQuery(query.Get("limit"), "limit", 0, 200)
	if err != nil {
		return trace.TraceFilter{}, err
	}
	return trace.TraceFilter{
		SessionID: strings.TrimSpace(query.Get("session_id")),
		Limit:     limit,
		Cursor:    strings.TrimSpace(query.Get("cursor")),
	}, nil
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	if value < min || value > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return value, nil
}

func summarizeTrace(item *trace.Trace) traceSummary {
	summary := traceSummary{
		ID:        item.ID,
		Name:      item.Name,
		SessionID: item.SessionID,
		StartedAt: item.StartedAt.UTC(),
	}
	if !item.EndedAt.IsZero() {
		ended := item.EndedAt.UTC()
		duration := item.EndedAt.Sub(item.StartedAt).Milliseconds()
		summary.EndedAt = &ended
		summary.DurationMS = &duration
	}
	return summary
}

func detailTrace(item *trace.Trace) traceDetail {
	return traceDetail{
		traceSummary: summarizeTrace(item),
		Metadata:     decodeJSONField(item.Metadata),
	}
}

// decodeJSONField returns raw decoded when it is valid JSON, raw itself
// otherwise, and nil when empty.
func decodeJSONField(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	return decoded
}

func parseTracePathRoute(path string) (tracePathRoute, bool) {
	prefix := "/api/traces/"
	if !strings.HasPrefix(path, prefix) {
		return tracePathRoute{}, false
	}
	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return tracePathRoute{}, false
	}
	parts := strings.Split(suffix, "/")
	if len(parts) > 2 || strings.TrimSpace(parts[0]) == "" {
		return tracePathRoute{}, false
	}
	route := tracePathRoute{ID: parts[0]}
	if len(parts) == 2 {
		route.Action = strings.TrimSpace(parts[1])
		if route.Action == "" {
			return tracePathRoute{}, false
		}
	}
	return route, true
}

func parseSpanDetailsPath(path string) (string, bool) {
	suffix := strings.Trim(strings.TrimPrefix(path, "/api/span/"), "/")
	parts := strings.Split(suffix, "/")
	if !strings.HasPrefix(path, "/api/span/") || len(parts) != 2 || parts[1] != "details" || strings.TrimSpace(parts[0]) == "" {
		return "", false
	}
	return parts[0], true
}
