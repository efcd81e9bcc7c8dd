// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/relayq/relayq/internal/relay"
)

// Queue is an ordered blocking FIFO of pending jobs with context-aware
// operations. Ordering is submission order, except that EnqueueFront places
// a recovered in-flight job ahead of everything else.
type Queue struct {
	mu      sync.Mutex
	items   []relay.Job
	notify  chan struct{}
	closeCh chan struct{}
	closed  bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Enqueue appends a job, or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, job relay.Job) error {
	return q.push(ctx, job, false)
}

// EnqueueFront places a job at the head of the queue.
func (q *Queue) EnqueueFront(ctx context.Context, job relay.Job) error {
	return q.push(ctx, job, true)
}

func (q *Queue) push(ctx context.Context, job relay.Job, front bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return relay.ErrQueueClosed
	}
	if front {
		q.items = append([]relay.Job{job}, q.items...)
	} else {
		q.items = append(q.items, job)
	}
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the next job, suspending the caller until one is available,
// the context ends, or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (relay.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return relay.Job{}, relay.ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return relay.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.closeCh:
			return relay.Job{}, relay.ErrQueueClosed
		case <-q.notify:
		}
	}
}

// Remove deletes the first job whose identifier matches and reports whether
// one was found.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.items {
		if job.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Drain removes every pending job and returns how many were dropped.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the pending jobs in order.
func (q *Queue) Snapshot() []relay.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]relay.Job, len(q.items))
	copy(out, q.items)
	return out
}

var _ relay.Queue = (*Queue)(nil)

// Close wakes blocked consumers for shutdown. Pending jobs stay in the
// queued durable partition and are recovered on the next start.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closeCh)
}
