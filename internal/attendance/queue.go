package attendance

import (
	"context"
	"errors"
	"sync"
	"time"

	"rollcall/internal/logging"
)

type job struct {
	identityID int64
	at         time.Time
	score      float64
}

// Queue moves store writes off the caller's goroutine. Record applies the
// recorder's cache check, then enqueues; the final outcome reaches the
// recorder's observer once the worker has written the mark.
type Queue struct {
	rec  *Recorder
	jobs chan job

	mu      sync.Mutex
	pending map[int64]struct{}
	dropped int
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue starts a worker draining up to size pending marks into rec.
func NewQueue(rec *Recorder, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		rec:     rec,
		jobs:    make(chan job, size),
		pending: make(map[int64]struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run(ctx)
	return q
}

// Mode returns the wrapped recorder's mode.
func (q *Queue) Mode() string {
	return q.rec.Mode()
}

// AddObserver registers fn on the wrapped recorder. Outcomes of queued
// writes reach it from the worker goroutine.
func (q *Queue) AddObserver(fn Observer) {
	q.rec.AddObserver(fn)
}

// Record returns AlreadyMarked without queueing when the cache covers now,
// Pending when the mark was queued or is already waiting, and StoreError
// when the queue is full or closed.
func (q *Queue) Record(_ context.Context, identityID int64, now time.Time, score float64) Outcome {
	if q.rec.Cached(identityID, now) {
		q.rec.finish(Event{IdentityID: identityID, Outcome: AlreadyMarked, At: now, Score: score})
		return AlreadyMarked
	}

	q.mu.Lock()
	if _, waiting := q.pending[identityID]; waiting {
		q.mu.Unlock()
		return Pending
	}
	var cause error
	if q.closed {
		cause = errors.New("attendance queue closed")
	} else {
		select {
		case q.jobs <- job{identityID: identityID, at: now, score: score}:
			q.pending[identityID] = struct{}{}
		default:
			cause = ErrQueueFull
		}
	}
	if cause == nil {
		q.mu.Unlock()
		return Pending
	}
	q.dropped++
	q.mu.Unlock()

	q.rec.finish(Event{
		IdentityID: identityID,
		Outcome:    StoreError,
		At:         now,
		Score:      score,
		Err:        &StoreFailure{Op: "enqueue mark", IdentityID: identityID, Err: cause},
	})
	return StoreError
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for j := range q.jobs {
		q.rec.Record(ctx, j.identityID, j.at, j.score)
		q.mu.Lock()
		delete(q.pending, j.identityID)
		q.mu.Unlock()
	}
}

// Close stops accepting marks and waits for queued writes to finish. When
// ctx ends first the in-flight write is cancelled and the rest are
// abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	remaining := len(q.pending)
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		logging.WarnWithContext(q.rec.logger, "attendance queue flush interrupted", "attendance_flush_interrupted",
			logging.Int("pending", remaining),
			logging.String(logging.FieldImpact, "queued marks were not written"),
		)
		return ctx.Err()
	}
}

// Stats returns recorder counters plus queue depth and drops.
func (q *Queue) Stats() Stats {
	stats := q.rec.Stats()
	q.mu.Lock()
	stats.Pending = len(q.pending)
	stats.Dropped = q.dropped
	q.mu.Unlock()
	return stats
}
