package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ongoingai/agenttrace/internal/trace"
)

type HealthOptions struct {
	Version       string
	StartedAt     time.Time
	StorageDriver string
	StoragePath   string
	Store         trace.Reader
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSec     int64  `json:"uptime_sec"`
	StorageDriver string `json:"storage_driver,omitempty"`
	StorageStatus string `json:"storage_status"`
	DBSizeBytes   int64  `json:"db_size_bytes,omitempty"`
}

// HealthHandler reports "degraded" with a 503 when the store cannot be read.
func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		response := healthResponse{
			Status:        "ok",
			Version:       options.Version,
			UptimeSec:     int64(time.Since(options.StartedAt).Seconds()),
			StorageDriver: options.StorageDriver,
			StorageStatus: "unconfigured",
		}
		status := http.StatusOK

		if options.Store != nil {
			response.StorageStatus = "ok"
			if _, err := options.Store.ListTraces(r.Context(), trace.TraceFilter{Limit: 1}); err != nil {
				response.Status = "degraded"
				response.StorageStatus = "error"
				status = http.StatusServiceUnavailable
			}
		}

		if strings.EqualFold(options.StorageDriver, "sqlite") && options.StoragePath != "" {
			if info, err := os.Stat(options.StoragePath); err == nil {
				response.DBSizeBytes = info.Size()
			}
		}

		writeJSON(w, status, response)
	})
}
