package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/internal/attendance"
)

type eventLog struct {
	mu     sync.Mutex
	events []attendance.Event
}

func (l *eventLog) observe(e attendance.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) outcomes() []attendance.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]attendance.Outcome, len(l.events))
	for i, e := range l.events {
		out[i] = e.Outcome
	}
	return out
}

func TestQueueDeduplicatesPendingIdentities(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	store.entered = make(chan int64, 4)
	log := &eventLog{}
	opts := cooldownOptions()
	opts.Observer = log.observe
	q := attendance.NewQueue(attendance.NewRecorder(store, opts), 4)
	ctx := context.Background()

	if got := q.Record(ctx, 42, t0, 0.8); got != attendance.Pending {
		t.Fatalf("first = %s, want pending", got)
	}
	<-store.entered
	if got := q.Record(ctx, 42, t0.Add(time.Second), 0.8); got != attendance.Pending {
		t.Fatalf("duplicate = %s, want pending", got)
	}
	if q.Stats().Pending != 1 {
		t.Fatalf("expected one pending identity, got %d", q.Stats().Pending)
	}

	close(store.block)
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.writes() != 1 {
		t.Fatalf("expected one write, got %d", store.writes())
	}
	if got := log.outcomes(); len(got) != 1 || got[0] != attendance.Marked {
		t.Fatalf("unexpected observed outcomes: %v", got)
	}
}

func TestQueueChecksCacheBeforeEnqueue(t *testing.T) {
	store := newFakeStore()
	q := attendance.NewQueue(attendance.NewRecorder(store, cooldownOptions()), 4)
	defer q.Close(context.Background())
	ctx := context.Background()

	q.Record(ctx, 42, t0, 0.8)
	deadline := time.Now().Add(2 * time.Second)
	for q.Stats().Marked == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := q.Record(ctx, 42, t0.Add(5*time.Second), 0.8); got != attendance.AlreadyMarked {
		t.Fatalf("record inside cooldown = %s, want already_marked", got)
	}
	if store.writes() != 1 {
		t.Fatalf("expected one write, got %d", store.writes())
	}
}

func TestQueueFullDropsWithoutCaching(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	store.entered = make(chan int64, 4)
	recorder := attendance.NewRecorder(store, cooldownOptions())
	q := attendance.NewQueue(recorder, 1)
	ctx := context.Background()

	q.Record(ctx, 1, t0, 0.8)
	<-store.entered
	if got := q.Record(ctx, 2, t0, 0.8); got != attendance.Pending {
		t.Fatalf("second = %s, want pending", got)
	}
	if got := q.Record(ctx, 3, t0, 0.8); got != attendance.StoreError {
		t.Fatalf("third = %s, want store_error", got)
	}
	stats := q.Stats()
	if stats.Dropped != 1 || stats.LastErrorKind != "busy" {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	close(store.block)
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if recorder.Cached(3, t0.Add(time.Second)) {
		t.Fatal("dropped identity must not be cached")
	}
	if !recorder.Cached(1, t0.Add(time.Second)) {
		t.Fatal("written identity should be cached")
	}
	if got := q.Record(ctx, 3, t0.Add(time.Second), 0.8); got != attendance.StoreError {
		t.Fatalf("record after close = %s, want store_error", got)
	}
}

func TestQueueCloseHonoursDeadline(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	store.entered = make(chan int64, 4)
	q := attendance.NewQueue(attendance.NewRecorder(store, cooldownOptions()), 4)

	q.Record(context.Background(), 1, t0, 0.8)
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close error = %v, want deadline exceeded", err)
	}
	if store.writes() != 0 {
		t.Fatalf("blocked write must not complete, got %d", store.writes())
	}
}
