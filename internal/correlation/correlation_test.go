package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareKeepsValidIncomingID(t *testing.T) {
	t.Parallel()

	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/traces", nil)
	req.Header.Set(HeaderName, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "abc-123" {
		t.Fatalf("context id=%q, want abc-123", seen)
	}
	if got := rec.Header().Get(HeaderName); got != "abc-123" {
		t.Fatalf("%s=%q, want abc-123", HeaderName, got)
	}
}

func TestMiddlewareReplacesInvalidID(t *testing.T) {
	t.Parallel()

	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/traces", nil)
	req.Header.Set(HeaderName, "bad value with spaces")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.HasPrefix(seen, "req-") {
		t.Fatalf("context id=%q, want generated req- id", seen)
	}
	if got := rec.Header().Get(HeaderName); got != seen {
		t.Fatalf("%s=%q, want %q", HeaderName, got, seen)
	}
}

func TestWithContextIgnoresInvalidID(t *testing.T) {
	t.Parallel()

	ctx := WithContext(context.Background(), "has space")
	if id, ok := FromContext(ctx); ok {
		t.Fatalf("FromContext()=%q, want none", id)
	}
	long := strings.Repeat("a", 200)
	if id, _ := FromContext(WithContext(context.Background(), long)); len(id) != maxIDLen {
		t.Fatalf("len(id)=%d, want truncation to %d", len(id), maxIDLen)
	}
}
