package trace

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sqlStore holds the SQL shared by the SQLite and Postgres stores. Queries
// are written with ? placeholders and rebound for the target driver.
type sqlStore struct {
	db     *sql.DB
	rebind func(string) string
	// write wraps every write transaction; drivers add locking and retries.
	write func(ctx context.Context, fn func() error) error
}

func (s *sqlStore) q(query string) string {
	if s.rebind == nil {
		return query
	}
	return s.rebind(query)
}

// rebindDollar converts ? placeholders into $1..$n.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) InsertTrace(ctx context.Context, t *Trace) error {
	if t == nil {
		return nil
	}
	return s.Apply(ctx, []Record{TraceStartRecord(t)})
}

func (s *sqlStore) FinishTrace(ctx context.Context, t *Trace) error {
	if t == nil {
		return nil
	}
	return s.Apply(ctx, []Record{TraceEndRecord(t)})
}

func (s *sqlStore) InsertSpan(ctx context.Context, span *Span) error {
	if span == nil {
		return nil
	}
	return s.Apply(ctx, []Record{SpanRecord(span)})
}

func (s *sqlStore) Apply(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	run := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin trace transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()
		for _, record := range records {
			if err := s.applyRecord(ctx, tx, record); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit trace transaction: %w", err)
		}
		return nil
	}
	if s.write == nil {
		return run()
	}
	return s.write(ctx, run)
}

func (s *sqlStore) applyRecord(ctx context.Context, tx *sql.Tx, record Record) error {
	switch record.Kind {
	case RecordTraceStart:
		if record.Trace == nil {
			return nil
		}
		return s.insertTrace(ctx, tx, record.Trace)
	case RecordTraceEnd:
		if record.Trace == nil {
			return nil
		}
		return s.finishTrace(ctx, tx, record.Trace)
	case RecordSpan:
		if record.Span == nil {
			return nil
		}
		return s.insertSpan(ctx, tx, record.Span)
	default:
		return fmt.Errorf("unsupported trace record kind %d", record.Kind)
	}
}

func (s *sqlStore) insertTrace(ctx context.Context, tx *sql.Tx, t *Trace) error {
	_, err := tx.ExecContext(ctx, s.q(`
INSERT INTO traces (id, name, started_at, ended_at, session_id, metadata)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		t.ID,
		t.Name,
		unixNano(t.StartedAt),
		nullTime(t.EndedAt),
		nullIfEmpty(t.SessionID),
		nullIfEmpty(t.Metadata),
	)
	if err != nil {
		return fmt.Errorf("insert trace %q: %w", t.ID, err)
	}
	return nil
}

func (s *sqlStore) finishTrace(ctx context.Context, tx *sql.Tx, t *Trace) error {
	_, err := tx.ExecContext(ctx, s.q(`
UPDATE traces
SET ended_at = ?, metadata = COALESCE(?, metadata)
WHERE id = ?`),
		nullTime(t.EndedAt),
		nullIfEmpty(t.Metadata),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("finish trace %q: %w", t.ID, err)
	}
	return nil
}

func (s *sqlStore) insertSpan(ctx context.Context, tx *sql.Tx, span *Span) error {
	kind := span.Kind
	if kind == "" {
		kind = SpanKindInternal
	}
	status := span.Status
	if status == "" {
		status = StatusUnset
	}
	res, err := tx.ExecContext(ctx, s.q(`
INSERT INTO spans (
    id,
    trace_id,
    parent_id,
    name,
    kind,
    started_at,
    ended_at,
    duration,
    status,
    status_message,
    attributes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		span.ID,
		span.TraceID,
		nullIfEmpty(span.ParentID),
		span.Name,
		string(kind),
		unixNano(span.StartedAt),
		unixNano(span.EndedAt),
		int64(span.Duration),
		status,
		nullIfEmpty(span.StatusMessage),
		nullIfEmpty(EncodeAttributes(span.Attributes)),
	)
	if err != nil {
		return fmt.Errorf("insert span %q: %w", span.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read span insert row count: %w", err)
	}
	if affected == 0 {
		// The span and its derived rows were committed by an earlier write.
		return nil
	}

	details := DeriveRecords(span)
	for _, p := range details.Prompts {
		if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO prompts (span_id, message_index, role, content) VALUES (?, ?, ?, ?)`),
			p.SpanID, p.MessageIndex, p.Role, p.Content,
		); err != nil {
			return fmt.Errorf("insert prompt %d for span %q: %w", p.MessageIndex, span.ID, err)
		}
	}
	for _, c := range details.Completions {
		if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO completions (
    span_id, message_index, role, content, finish_reason, prompt_tokens, completion_tokens, total_tokens
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			c.SpanID, c.MessageIndex, c.Role, c.Content, nullIfEmpty(c.FinishReason),
			nullInt64(c.PromptTokens), nullInt64(c.CompletionTokens), nullInt64(c.TotalTokens),
		); err != nil {
			return fmt.Errorf("insert completion %d for span %q: %w", c.MessageIndex, span.ID, err)
		}
	}
	for i, tool := range details.Tools {
		var output any
		if tool.Output != nil {
			output = *tool.Output
		}
		if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO tools (span_id, call_index, name, arguments, output) VALUES (?, ?, ?, ?, ?)`),
			tool.SpanID, i, tool.Name, tool.Arguments, output,
		); err != nil {
			return fmt.Errorf("insert tool %q for span %q: %w", tool.Name, span.ID, err)
		}
	}
	return nil
}

const traceColumns = `id, name, started_at, ended_at, session_id, metadata`

func (s *sqlStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+traceColumns+" FROM traces WHERE id = ? LIMIT 1"), id)
	item, err := scanTrace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return item, nil
}

func (s *sqlStore) ListTraces(ctx context.Context, filter TraceFilter) (*TraceResult, error) {
	limit := clampLimit(filter.Limit)

	conditions := []string{"1 = 1"}
	var args []any
	if sessionID := strings.TrimSpace(filter.SessionID); sessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, sessionID)
	}
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		startedAt, id, err := decodeTraceCursor(cursor)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, "(started_at < ? OR (started_at = ? AND id < ?))")
		args = append(args, startedAt, startedAt, id)
	}
	args = append(args, limit+1)

	query := "SELECT " + traceColumns + " FROM traces WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY started_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	items := make([]*Trace, 0, limit+1)
	for rows.Next() {
		item, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace rows: %w", err)
	}
	return paginate(items, limit), nil
}

const spanColumns = `id, trace_id, parent_id, name, kind, started_at, ended_at, duration, status, status_message, attributes`

func (s *sqlStore) GetSpans(ctx context.Context, traceID string) ([]*Span, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+spanColumns+" FROM spans WHERE trace_id = ? ORDER BY started_at ASC, id ASC"), traceID)
	if err != nil {
		return nil, fmt.Errorf("query spans for trace %q: %w", traceID, err)
	}
	defer rows.Close()

	spans := []*Span{}
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span row: %w", err)
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate span rows: %w", err)
	}
	return spans, nil
}

func (s *sqlStore) GetSpanDetails(ctx context.Context, spanID string) (*SpanDetails, error) {
	byID, err := s.loadDetails(ctx, "span_id = ?", spanID)
	if err != nil {
		return nil, err
	}
	if details, ok := byID[spanID]; ok {
		return details, nil
	}
	return NewSpanDetails(), nil
}

func (s *sqlStore) GetTraceDetails(ctx context.Context, traceID string) (map[string]*SpanDetails, error) {
	return s.loadDetails(ctx, "span_id IN (SELECT id FROM spans WHERE trace_id = ?)", traceID)
}

func (s *sqlStore) loadDetails(ctx context.Context, where string, arg any) (map[string]*SpanDetails, error) {
	out := make(map[string]*SpanDetails)
	get := func(spanID string) *SpanDetails {
		details, ok := out[spanID]
		if !ok {
			details = NewSpanDetails()
			out[spanID] = details
		}
		return details
	}

	err := s.each(ctx, "SELECT span_id, message_index, role, content FROM prompts WHERE "+where+" ORDER BY span_id, message_index", arg,
		func(rows *sql.Rows) error {
			var p PromptRecord
			if err := rows.Scan(&p.SpanID, &p.MessageIndex, &p.Role, &p.Content); err != nil {
				return err
			}
			details := get(p.SpanID)
			details.Prompts = append(details.Prompts, p)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	err = s.each(ctx, `SELECT span_id, message_index, role, content, finish_reason, prompt_tokens, completion_tokens, total_tokens
FROM completions WHERE `+where+" ORDER BY span_id, message_index", arg,
		func(rows *sql.Rows) error {
			var (
				c                                    CompletionRecord
				finishReason                         sql.NullString
				promptTokens, completionTokens, total sql.NullInt64
			)
			if err := rows.Scan(&c.SpanID, &c.MessageIndex, &c.Role, &c.Content, &finishReason, &promptTokens, &completionTokens, &total); err != nil {
				return err
			}
			c.FinishReason = finishReason.String
			c.PromptTokens = int64Ptr(promptTokens)
			c.CompletionTokens = int64Ptr(completionTokens)
			c.TotalTokens = int64Ptr(total)
			details := get(c.SpanID)
			details.Completions = append(details.Completions, c)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}

	err = s.each(ctx, "SELECT span_id, name, arguments, output FROM tools WHERE "+where+" ORDER BY span_id, call_index", arg,
		func(rows *sql.Rows) error {
			var (
				tool      ToolCallRecord
				arguments sql.NullString
				output    sql.NullString
			)
			if err := rows.Scan(&tool.SpanID, &tool.Name, &arguments, &output); err != nil {
				return err
			}
			tool.Arguments = arguments.String
			if output.Valid {
				value := output.String
				tool.Output = &value
			}
			details := get(tool.SpanID)
			details.Tools = append(details.Tools, tool)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}
	return out, nil
}

func (s *sqlStore) each(ctx context.Context, query string, arg any, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, s.q(query), arg)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(scanner rowScanner) (*Trace, error) {
	var (
		item      Trace
		startedAt int64
		endedAt   sql.NullInt64
		sessionID sql.NullString
		metadata  sql.NullString
	)
	if err := scanner.Scan(&item.ID, &item.Name, &startedAt, &endedAt, &sessionID, &metadata); err != nil {
		return nil, err
	}
	item.StartedAt = fromUnixNano(startedAt)
	if endedAt.Valid {
		item.EndedAt = fromUnixNano(endedAt.Int64)
	}
	item.SessionID = sessionID.String
	item.Metadata = metadata.String
	return &item, nil
}

func scanSpan(scanner rowScanner) (*Span, error) {
	var (
		item          Span
		parentID      sql.NullString
		kind          string
		startedAt     int64
		endedAt       int64
		duration      int64
		statusMessage sql.NullString
		attributes    sql.NullString
	)
	if err := scanner.Scan(
		&item.ID,
		&item.TraceID,
		&parentID,
		&item.Name,
		&kind,
		&startedAt,
		&endedAt,
		&duration,
		&item.Status,
		&statusMessage,
		&attributes,
	); err != nil {
		return nil, err
	}
	item.ParentID = parentID.String
	item.Kind = SpanKind(kind)
	item.StartedAt = fromUnixNano(startedAt)
	item.EndedAt = fromUnixNano(endedAt)
	item.Duration = time.Duration(duration)
	item.StatusMessage = statusMessage.String
	item.Attributes = DecodeAttributes(attributes.String)
	if item.Attributes == nil {
		item.Attributes = map[string]any{}
	}
	return &item, nil
}

func paginate(items []*Trace, limit int) *TraceResult {
	result := &TraceResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		last := result.Items[len(result.Items)-1]
		result.NextCursor = encodeTraceCursor(unixNano(last.StartedAt), last.ID)
	}
	return result
}

func encodeTraceCursor(startedAt int64, id string) string {
	if id == "" {
		return ""
	}
	raw := strconv.FormatInt(startedAt, 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeTraceCursor(cursor string) (int64, string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("%w: decode base64 cursor", ErrInvalidCursor)
	}
	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return 0, "", fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	startedAt, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: parse started_at", ErrInvalidCursor)
	}
	return startedAt, strings.TrimSpace(parts[1]), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
