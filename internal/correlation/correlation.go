// Package correlation tags read-API requests with a request id so log lines
// and response headers can be matched to one call.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderName carries the request id on requests and responses.
	HeaderName = "X-Request-ID"
	maxIDLen   = 128
)

type contextKey struct{}

// Middleware reuses a valid incoming request id or generates one, stores it
// on the request context and echoes it in the response header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := normalizeID(req.Header.Get(HeaderName))
		if id == "" {
			id = NewID()
		}
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, req.WithContext(WithContext(req.Context(), id)))
	})
}

// WithContext stores a normalized request id. Invalid ids leave ctx unchanged.
func WithContext(ctx context.Context, id string) context.Context {
	normalized := normalizeID(id)
	if normalized == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

func NewID() string {
	return "req-" + uuid.NewString()
}

func normalizeID(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if len(value) > maxIDLen {
		value = value[:maxIDLen]
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return value
}
