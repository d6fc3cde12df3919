package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ongoingai/agenttrace/internal/ingest"
)

const maxIngestBodyBytes = 16 << 20

// Ingester records a batch of provider calls as one trace.
type Ingester interface {
	Replay(ctx context.Context, batch ingest.Batch) (ingest.Result, error)
}

// IngestHandler accepts a JSON batch of recorded calls. Persistence is
// asynchronous, so success is reported as 202 Accepted.
func IngestHandler(ingester Ingester) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if ingester == nil {
			writeError(w, http.StatusServiceUnavailable, "ingest is not enabled")
			return
		}

		var batch ingest.Batch
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBodyBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&batch); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		result, err := ingester.Replay(r.Context(), batch)
		if err != nil {
			if errors.Is(err, ingest.ErrInvalidBatch) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to ingest calls")
			return
		}
		writeJSON(w, http.StatusAccepted, result)
	})
}
