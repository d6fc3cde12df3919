package api

import (
	"net/http"
	"time"

	"github.com/ongoingai/agenttrace/internal/trace"
)

const pipelineDiagnosticsSchemaVersion = "agenttrace-pipeline-diagnostics.v1"

// PipelineDiagnosticsReader exposes the async writer's queue state.
type PipelineDiagnosticsReader interface {
	Diagnostics() trace.PipelineDiagnostics
}

type pipelineDiagnosticsResponse struct {
	SchemaVersion string                    `json:"schema_version"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	Diagnostics   trace.PipelineDiagnostics `json:"diagnostics"`
}

func PipelineDiagnosticsHandler(reader PipelineDiagnosticsReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if reader == nil {
			writeError(w, http.StatusServiceUnavailable, "pipeline diagnostics unavailable")
			return
		}

		writeJSON(w, http.StatusOK, pipelineDiagnosticsResponse{
			SchemaVersion: pipelineDiagnosticsSchemaVersion,
			GeneratedAt:   time.Now().UTC(),
			Diagnostics:   reader.Diagnostics(),
		})
	})
}
