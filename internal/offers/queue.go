package offers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbd888/offerflow/internal/metrics"
)

// PassResult is the outcome of one processing pass over an offer id.
type PassResult int

const (
	// PassCompleted means the pass finished: the offer was handled, or it
	// vanished / left the active state and there is nothing to do.
	PassCompleted PassResult = iota
	// PassRequeue means the fetch exhausted its retries. The id is pushed
	// to the tail when other offers are waiting, so a problematic offer
	// yields to them instead of starving the queue.
	PassRequeue
)

// ProcessFunc runs one full pass (fetch → decide → act) for an offer id.
type ProcessFunc func(ctx context.Context, id string) PassResult

// Queue serializes offer processing. At most one id is in flight at any
// time, and an id appears at most once in the queue.
//
// All mutation goes through Enqueue, Advance, and Finish; the mutex is held
// only for queue-state changes, never across a network call.
type Queue struct {
	mu         sync.Mutex
	ids        []string
	processing bool

	process ProcessFunc
	logger  *slog.Logger
}

// NewQueue creates a processing queue driving process for each queued id.
func NewQueue(process ProcessFunc, logger *slog.Logger) *Queue {
	return &Queue{process: process, logger: logger}
}

// Enqueue adds id to the queue and kicks processing. Adding an id that is
// already queued is a no-op.
func (q *Queue) Enqueue(ctx context.Context, id string) {
	q.mu.Lock()
	if q.contains(id) {
		q.mu.Unlock()
		q.logger.Debug("offer already queued", "offer_id", id)
		return
	}
	q.ids = append(q.ids, id)
	metrics.QueueDepth.Set(float64(len(q.ids)))
	q.mu.Unlock()

	q.Advance(ctx)
}

// Advance starts a pass for the id at the front of the queue. It is a no-op
// while a pass is in flight or when the queue is empty.
func (q *Queue) Advance(ctx context.Context) {
	q.mu.Lock()
	if q.processing || len(q.ids) == 0 {
		q.mu.Unlock()
		return
	}
	q.processing = true
	id := q.ids[0]
	q.mu.Unlock()

	go q.runPass(ctx, id)
}

func (q *Queue) runPass(ctx context.Context, id string) {
	switch q.process(ctx, id) {
	case PassRequeue:
		q.mu.Lock()
		if len(q.ids) <= 1 {
			// Nothing else is waiting: leave the id at the front and
			// clear the in-flight flag so the next Advance retries it.
			q.processing = false
			q.mu.Unlock()
			q.logger.Warn("offer fetch exhausted retries, will retry on next advance", "offer_id", id)
			return
		}
		q.ids = append(q.ids, id)
		metrics.QueueDepth.Set(float64(len(q.ids)))
		q.mu.Unlock()
		q.logger.Warn("offer fetch exhausted retries, requeued to tail", "offer_id", id)
		q.Finish(ctx, id)
	default:
		q.Finish(ctx, id)
	}
}

// Finish removes the first occurrence of id, clears the in-flight flag, and
// advances. When a pass just pushed id to the tail, the front occurrence is
// the one removed here; the tail copy survives for a later pass.
func (q *Queue) Finish(ctx context.Context, id string) {
	q.mu.Lock()
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	q.processing = false
	metrics.QueueDepth.Set(float64(len(q.ids)))
	q.mu.Unlock()

	q.Advance(ctx)
}

// Snapshot returns the queued ids in order and whether a pass is in flight.
func (q *Queue) Snapshot() (ids []string, inFlight bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids = make([]string, len(q.ids))
	copy(ids, q.ids)
	return ids, q.processing
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func (q *Queue) contains(id string) bool {
	for _, queued := range q.ids {
		if queued == id {
			return true
		}
	}
	return false
}
