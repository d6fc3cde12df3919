// Package tracectx carries trace identity, pending input/output, the open
// span and the session id through a call chain's context.Context.
//
// Every BeginTrace call allocates fresh chain state on a derived context, so
// chains started from different contexts never observe each other.
package tracectx

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Identity names the active trace of a call chain.
type Identity struct {
	ID   string
	Name string
}

// PendingIO is the chain-level input/output pair collected from spans.
type PendingIO struct {
	Input     any
	Output    any
	HasInput  bool
	HasOutput bool
}

type chainState struct {
	identity Identity

	mu      sync.Mutex
	pending PendingIO
}

type (
	chainKey   struct{}
	spanKey    struct{}
	sessionKey struct{}
)

// NewID returns a time-ordered unique identifier for traces and spans.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// BeginTrace installs a fresh trace identity on the returned context.
func BeginTrace(ctx context.Context, name string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	state := &chainState{identity: Identity{ID: NewID(), Name: name}}
	ctx = context.WithValue(ctx, chainKey{}, state)
	// A new trace starts with no open span.
	ctx = context.WithValue(ctx, spanKey{}, "")
	return ctx, state.identity.ID
}

// CurrentTrace reports the active trace identity, if any.
func CurrentTrace(ctx context.Context) (Identity, bool) {
	state := stateFrom(ctx)
	if state == nil {
		return Identity{}, false
	}
	return state.identity, true
}

// RecordInputIfUnset stores value as the chain input unless an earlier call
// already did. Nil values are ignored. It reports whether value was stored.
func RecordInputIfUnset(ctx context.Context, value any) bool {
	state := stateFrom(ctx)
	if state == nil || value == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.pending.HasInput {
		return false
	}
	state.pending.Input = value
	state.pending.HasInput = true
	return true
}

// RecordOutput stores value as the chain output, replacing any earlier one.
// Nil values are ignored.
func RecordOutput(ctx context.Context, value any) {
	state := stateFrom(ctx)
	if state == nil || value == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.pending.Output = value
	state.pending.HasOutput = true
}

// Pending returns a snapshot of the chain's pending input/output.
func Pending(ctx context.Context) PendingIO {
	state := stateFrom(ctx)
	if state == nil {
		return PendingIO{}
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.pending
}

// Clear resets the chain's pending input/output.
func Clear(ctx context.Context) {
	state := stateFrom(ctx)
	if state == nil {
		return
	}
	state.mu.Lock()
	state.pending = PendingIO{}
	state.mu.Unlock()
}

func stateFrom(ctx context.Context) *chainState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(chainKey{}).(*chainState)
	return state
}

// WithSpan marks spanID as the open span for nested captures.
func WithSpan(ctx context.Context, spanID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, spanKey{}, spanID)
}

// CurrentSpan returns the id of the innermost open span.
func CurrentSpan(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(spanKey{}).(string)
	return id, id != ""
}

// WithSession overrides the session id for the rest of the chain.
func WithSession(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID returns a session id set with WithSession.
func SessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(sessionKey{}).(string)
	return id, id != ""
}
