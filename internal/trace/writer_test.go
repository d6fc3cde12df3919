package trace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingStore struct {
	*MemoryStore
	mu      sync.Mutex
	applied []Record
	batches int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: NewMemoryStore()}
}

func (s *recordingStore) Apply(ctx context.Context, records []Record) error {
	s.mu.Lock()
	s.applied = append(s.applied, records...)
	if len(records) > 1 {
		s.batches++
	}
	s.mu.Unlock()
	return s.MemoryStore.Apply(ctx, records)
}

func (s *recordingStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

type blockingStore struct {
	*MemoryStore
	mu      sync.Mutex
	count   int
	started chan struct{}
	release chan struct{}
}

func (s *blockingStore) Apply(ctx context.Context, records []Record) error {
	s.mu.Lock()
	first := s.count == 0
	s.count += len(records)
	s.mu.Unlock()

	if first {
		close(s.started)
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *blockingStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

var errFlakyWrite = errors.New("flaky write")

type flakyStore struct {
	*MemoryStore
	mu        sync.Mutex
	failFirst int
	attempts  int
	failures  int
}

func (s *flakyStore) Apply(_ context.Context, records []Record) error {
	if len(records) > 1 {
		return errFlakyWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failFirst {
		s.failures++
		return errFlakyWrite
	}
	return nil
}

func spanRecordFixture(traceID string, i int) Record {
	now := time.Now().UTC()
	return SpanRecord(&Span{ID: fmt.Sprintf("%s-span-%d", traceID, i), TraceID: traceID, StartedAt: now, EndedAt: now})
}

func TestWriterPreservesEnqueueOrder(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	writer := NewWriter(store, 32)
	writer.Start(context.Background())

	tr := &Trace{ID: "ordered", StartedAt: time.Now().UTC()}
	want := []Record{TraceStartRecord(tr)}
	for i := 0; i < 5; i++ {
		want = append(want, spanRecordFixture(tr.ID, i))
	}
	want = append(want, TraceEndRecord(tr))
	for i, record := range want {
		if !writer.Enqueue(record) {
			t.Fatalf("enqueue failed at index %d", i)
		}
	}
	writer.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.applied) != len(want) {
		t.Fatalf("applied=%d, want %d", len(store.applied), len(want))
	}
	for i := range want {
		if store.applied[i].Kind != want[i].Kind {
			t.Fatalf("applied[%d].Kind=%s, want %s", i, store.applied[i].Kind, want[i].Kind)
		}
		if want[i].Span != nil && store.applied[i].Span.ID != want[i].Span.ID {
			t.Fatalf("applied[%d] span=%s, want %s", i, store.applied[i].Span.ID, want[i].Span.ID)
		}
	}

	spans, err := store.GetSpans(context.Background(), tr.ID)
	if err != nil || len(spans) != 5 {
		t.Fatalf("GetSpans()=%d spans, err=%v; want 5", len(spans), err)
	}
}

func TestWriterDrainsQueueWhenStopped(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	writer := NewWriter(store, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer.Start(ctx)
	for i := 0; i < 4; i++ {
		if !writer.Enqueue(spanRecordFixture("drain", i)) {
			t.Fatalf("enqueue failed at index %d", i)
		}
	}
	writer.Stop()

	if got := store.Count(); got != 4 {
		t.Fatalf("write count=%d, want 4", got)
	}
}

func TestWriterEnqueueReturnsFalseWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	store := &blockingStore{
		MemoryStore: NewMemoryStore(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	writer := NewWriter(store, 1)
	var drops int
	var dropsMu sync.Mutex
	writer.SetMetrics(&WriterMetrics{OnDrop: func() {
		dropsMu.Lock()
		drops++
		dropsMu.Unlock()
	}})
	writer.Start(context.Background())

	if !writer.Enqueue(spanRecordFixture("full", 1)) {
		t.Fatal("first enqueue unexpectedly failed")
	}
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first write to block")
	}

	if !writer.Enqueue(spanRecordFixture("full", 2)) {
		t.Fatal("second enqueue unexpectedly failed")
	}
	if writer.Enqueue(spanRecordFixture("full", 3)) {
		t.Fatal("third enqueue should fail when queue is full")
	}

	diag := writer.Diagnostics()
	if diag.EnqueueDroppedTotal != 1 || diag.QueuePressureState != QueuePressureSaturated {
		t.Fatalf("diagnostics=%+v, want one drop and saturated queue", diag)
	}

	close(store.release)
	writer.Stop()

	if got := store.Count(); got != 2 {
		t.Fatalf("write count=%d, want 2", got)
	}
	dropsMu.Lock()
	defer dropsMu.Unlock()
	if drops != 1 {
		t.Fatalf("OnDrop calls=%d, want 1", drops)
	}
}

func TestWriterContinuesAfterWriteFailures(t *testing.T) {
	t.Parallel()

	store := &flakyStore{MemoryStore: NewMemoryStore(), failFirst: 2}
	writer := NewWriter(store, 8)
	writeFailures := make(chan WriteFailure, 8)
	writer.SetWriteFailureHandler(func(failure WriteFailure) {
		writeFailures <- failure
	})
	writer.Start(context.Background())

	for i := 0; i < 4; i++ {
		if !writer.Enqueue(spanRecordFixture("flaky", i)) {
			t.Fatalf("enqueue failed at index %d", i)
		}
	}
	writer.Stop()
	close(writeFailures)

	store.mu.Lock()
	attempts, failures := store.attempts, store.failures
	store.mu.Unlock()
	if attempts != 4 {
		t.Fatalf("single-record attempts=%d, want 4", attempts)
	}
	if failures != 2 {
		t.Fatalf("failed writes=%d, want 2", failures)
	}

	totalFailed := 0
	for failure := range writeFailures {
		if failure.Operation == "" || failure.Err == nil {
			t.Fatalf("write failure=%+v, want operation and error", failure)
		}
		totalFailed += failure.FailedCount
	}
	if totalFailed != 2 {
		t.Fatalf("reported failed records=%d, want 2", totalFailed)
	}
	if got := writer.Diagnostics().WriteFailuresByClass[WriteErrorClassUnknown]; got != 2 {
		t.Fatalf("unknown-class failures=%d, want 2", got)
	}
}

func TestWriterShutdownHonorsContextDeadline(t *testing.T) {
	t.Parallel()

	store := &blockingStore{
		MemoryStore: NewMemoryStore(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	writer := NewWriter(store, 1)
	writer.Start(context.Background())

	if !writer.Enqueue(spanRecordFixture("deadline", 1)) {
		t.Fatal("enqueue unexpectedly failed")
	}
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first write to block")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if err := writer.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown err=%v, want %v", err, context.DeadlineExceeded)
	}

	finalCtx, finalCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer finalCancel()
	if err := writer.Shutdown(finalCtx); err != nil {
		t.Fatalf("shutdown after cancellation err=%v, want nil", err)
	}
}

func TestWriterStopIsIdempotentWithoutStart(t *testing.T) {
	t.Parallel()

	writer := NewWriter(NewMemoryStore(), 1)
	writer.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		writer.Stop()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second stop call blocked")
	}

	if writer.Enqueue(spanRecordFixture("after-stop", 0)) {
		t.Fatal("enqueue should fail after stop")
	}
}
