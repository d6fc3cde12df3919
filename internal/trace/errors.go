package trace

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Error classes for span persistence failures.
const (
	WriteErrorClassConnection = "connection"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassUnknown    = "unknown"
)

// ClassifyWriteError maps a persistence error to one of the write error
// classes so failures can be logged and counted by category.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}
	if errors.Is(err, ErrMissingTrace) {
		return WriteErrorClassConstraint
	}

	// Timeouts first: a net.Error can be both.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WriteErrorClassConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassConnection
	}

	// Driver errors often arrive wrapped without type information.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "broken pipe", "no such host"):
		return WriteErrorClassConnection
	case containsAny(msg, "timeout", "deadline exceeded"):
		return WriteErrorClassTimeout
	case containsAny(msg, "sqlite_busy", "database is locked"):
		return WriteErrorClassContention
	case containsAny(msg,
		"violates foreign key constraint",
		"foreign key constraint failed",
		"violates unique constraint",
		"unique constraint failed",
		"violates check constraint",
		"duplicate key",
	):
		return WriteErrorClassConstraint
	}
	return WriteErrorClassUnknown
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
