package trace

import "time"

// Attribute keys shared by capture, adapters, persistence and reconstruction.
const (
	AttrTraceID           = "trace_id"
	AttrTraceName         = "trace_name"
	AttrSessionID         = "session.id"
	AttrAgentName         = "agent.name"
	AttrNormalizedIO      = "gen_ai.normalized_input_output"
	AttrSystem            = "gen_ai.system"
	AttrRequestModel      = "gen_ai.request.model"
	AttrPromptTokens      = "gen_ai.usage.prompt_tokens"
	AttrCompletionTokens  = "gen_ai.usage.completion_tokens"
	AttrTotalTokens       = "llm.usage.total_tokens"
	AttrFinishReason      = "gen_ai.completion.0.finish_reason"
	AttrCompletionRole    = "gen_ai.completion.0.role"
	AttrCompletionContent = "gen_ai.completion.0.content"
	AttrToolCallPrefix    = "gen_ai.completion.0.tool_calls."
	AttrPromptPrefix      = "gen_ai.prompt."
)

type SpanKind string

const (
	SpanKindInternal SpanKind = "internal"
	SpanKindClient   SpanKind = "client"
	SpanKindServer   SpanKind = "server"
	SpanKindProducer SpanKind = "producer"
	SpanKindConsumer SpanKind = "consumer"
)

const (
	StatusUnset = "UNSET"
	StatusOK    = "OK"
	StatusError = "ERROR"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Trace is one top-level traced execution. Only EndedAt and Metadata change
// after the row is first written.
type Trace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	SessionID string    `json:"session_id,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

// Span is one captured unit of work. ParentID is empty for root spans and is
// never checked against the spans table.
type Span struct {
	ID            string         `json:"id"`
	TraceID       string         `json:"trace_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	Name          string         `json:"name"`
	Kind          SpanKind       `json:"kind"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at"`
	Duration      time.Duration  `json:"duration_ns"`
	Status        string         `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`
	Attributes    map[string]any `json:"attributes"`
}

type PromptRecord struct {
	SpanID       string `json:"span_id"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	MessageIndex int    `json:"message_index"`
}

type CompletionRecord struct {
	SpanID           string `json:"span_id"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	MessageIndex     int    `json:"message_index"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `json:"total_tokens,omitempty"`
}

type ToolCallRecord struct {
	SpanID    string  `json:"span_id"`
	Name      string  `json:"name"`
	Arguments string  `json:"arguments"`
	Output    *string `json:"output,omitempty"`
}

// SpanDetails holds the rows derived from one span's attributes.
type SpanDetails struct {
	Prompts     []PromptRecord     `json:"prompts"`
	Completions []CompletionRecord `json:"completions"`
	Tools       []ToolCallRecord   `json:"tools"`
}

// NewSpanDetails returns details with empty, non-nil slices.
func NewSpanDetails() *SpanDetails {
	return &SpanDetails{
		Prompts:     []PromptRecord{},
		Completions: []CompletionRecord{},
		Tools:       []ToolCallRecord{},
	}
}
