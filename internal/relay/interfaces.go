package relay

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound reports that an identifier is absent from the partition
	// an operation targeted.
	ErrNotFound = errors.New("identifier not found")
	// ErrQueueClosed reports a dequeue against a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is the in-process ordered queue of pending jobs, mirrored 1:1 with
// the queued durable partition.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// EnqueueFront places a recovered in-flight job ahead of everything else.
	EnqueueFront(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or the context ends.
	Dequeue(ctx context.Context) (Job, error)
	Remove(id string) bool
	Drain() int
	Len() int
	Snapshot() []Job
}

// Ledger is the durable set store: three identifier partitions plus the
// failed audit log, all behind one mutual-exclusion domain. Completed
// writes are visible after an unclean restart.
type Ledger interface {
	ReadAll(p Partition) ([]string, error)
	WriteAll(p Partition, ids []string) error
	Append(p Partition, id string) error
	Remove(p Partition, id string) (bool, error)
	Clear(p Partition) (int, error)
	Contains(p Partition, id string) (bool, error)

	// Claim moves id from queued to inflight. A job re-delivered after a
	// restart may already be inflight; Claim tolerates that.
	Claim(id string) error
	// Complete moves id from inflight to done.
	Complete(id string) error
	// Fail removes id from inflight and appends an audit entry.
	Fail(id string, reason string, at time.Time) error

	ReadFailed() ([]FailedEntry, error)
	ClearFailed() (int, error)
}

// DedupIndex answers "already done" queries. An external accelerator may
// speed lookups up, but correctness never depends on it: every operation
// falls back to the done partition of the Ledger.
type DedupIndex interface {
	// Warm populates the accelerator from the done partition.
	Warm(ctx context.Context) error
	IsProcessed(ctx context.Context, id string) (bool, error)
	// MarkProcessed updates the accelerator only; the done partition is
	// written by Ledger.Complete. Accelerator failures degrade silently.
	MarkProcessed(ctx context.Context, id string)
	Forget(ctx context.Context, id string)
	Clear(ctx context.Context)
}

// Runner invokes the external forwarding tool for one identifier and
// resolves the terminal outcome from its output stream and exit code.
type Runner interface {
	Forward(ctx context.Context, id string, onProgress func(Progress)) (Outcome, error)
}

// Classifier turns one line of tool output into a Signal.
type Classifier interface {
	Classify(line string) Signal
}

// Notifier delivers a reply to the originating context. The chat interface
// behind it is an external collaborator.
type Notifier interface {
	Notify(ctx context.Context, origin Origin, text string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces correlation and batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
