package trace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

// timeoutError satisfies net.Error with Timeout() == true.
type timeoutError struct{ msg string }

func (e *timeoutError) Error() string   { return e.msg }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return false }

func TestClassifyWriteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil error", err: nil, want: WriteErrorClassUnknown},
		{name: "deadline", err: context.DeadlineExceeded, want: WriteErrorClassTimeout},
		{name: "canceled", err: fmt.Errorf("insert span: %w", context.Canceled), want: WriteErrorClassTimeout},
		{name: "net timeout", err: &timeoutError{msg: "i/o timeout"}, want: WriteErrorClassTimeout},
		{
			name: "op error",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			want: WriteErrorClassConnection,
		},
		{name: "econnreset", err: fmt.Errorf("write: %w", syscall.ECONNRESET), want: WriteErrorClassConnection},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: WriteErrorClassContention},
		{name: "sqlite foreign key", err: errors.New("FOREIGN KEY constraint failed (787)"), want: WriteErrorClassConstraint},
		{name: "missing trace", err: fmt.Errorf("%w: boom", ErrMissingTrace), want: WriteErrorClassConstraint},
		{name: "postgres duplicate", err: errors.New(`duplicate key value violates unique constraint "spans_pkey"`), want: WriteErrorClassConstraint},
		{name: "unknown", err: errors.New("disk quota"), want: WriteErrorClassUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyWriteError(tt.err); got != tt.want {
				t.Fatalf("ClassifyWriteError(%v)=%q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
