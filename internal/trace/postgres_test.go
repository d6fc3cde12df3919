package trace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestRebindDollar(t *testing.T) {
	t.Parallel()

	got := rebindDollar("SELECT a FROM t WHERE x = ? AND (y < ? OR z = ?) LIMIT ?")
	want := "SELECT a FROM t WHERE x = $1 AND (y < $2 OR z = $3) LIMIT $4"
	if got != want {
		t.Fatalf("rebindDollar()=%q, want %q", got, want)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	store := newPostgresTestStore(t)
	prefix := fmt.Sprintf("pg-%d-", time.Now().UnixNano())
	cleanupPostgresTestRows(t, store, prefix)
	runStoreContract(t, store, prefix)
}

func TestPostgresStoreReportsMissingTrace(t *testing.T) {
	store := newPostgresTestStore(t)
	prefix := fmt.Sprintf("pg-orphan-%d-", time.Now().UnixNano())
	cleanupPostgresTestRows(t, store, prefix)

	now := time.Now().UTC()
	err := store.InsertSpan(context.Background(), &Span{
		ID:        prefix + "span",
		TraceID:   prefix + "missing",
		Name:      "orphan",
		StartedAt: now,
		EndedAt:   now,
	})
	if !errors.Is(err, ErrMissingTrace) {
		t.Fatalf("InsertSpan(orphan) error=%v, want ErrMissingTrace", err)
	}
}

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("AGENTTRACE_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("AGENTTRACE_TEST_POSTGRES_DSN is not set")
	}

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close postgres store: %v", err)
		}
	})
	return store
}

func cleanupPostgresTestRows(t *testing.T, store *PostgresStore, idPrefix string) {
	t.Helper()

	t.Cleanup(func() {
		ctx := context.Background()
		like := idPrefix + "%"
		for _, stmt := range []string{
			`DELETE FROM prompts WHERE span_id LIKE $1`,
			`DELETE FROM completions WHERE span_id LIKE $1`,
			`DELETE FROM tools WHERE span_id LIKE $1`,
			`DELETE FROM spans WHERE id LIKE $1`,
			`DELETE FROM traces WHERE id LIKE $1`,
		} {
			if _, err := store.db.ExecContext(ctx, stmt, like); err != nil {
				t.Fatalf("cleanup %q: %v", stmt, err)
			}
		}
	})
}
