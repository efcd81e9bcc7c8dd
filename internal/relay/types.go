// Package relay defines core types shared across subsystems.
package relay

import "time"

// Partition names one of the durable record stores.
type Partition string

// Durable store partitions. A normalized identifier lives in at most one of
// queued/inflight at any time; done is append-only; failed is an audit log.
const (
	PartitionQueued   Partition = "queued"
	PartitionInFlight Partition = "inflight"
	PartitionDone     Partition = "done"
	PartitionFailed   Partition = "failed"
)

// FailReason is the coarse classification recorded for failed jobs.
type FailReason string

// Failure reasons written to the failed log.
const (
	FailDeleted FailReason = "deleted"
	FailInvalid FailReason = "invalid"
	FailGeneric FailReason = "generic-error"
)

// Origin identifies where a submission came from, so replies can be routed
// back to the right chat message.
type Origin struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Job is one unit of forwarding work. Identity is ID, the normalized
// identifier: two jobs with the same ID are the same job for dedup purposes
// even if RawText differs.
type Job struct {
	RawText       string `json:"raw_text"`
	ID            string `json:"id"`
	Submitter     string `json:"submitter"`
	Origin        Origin `json:"origin"`
	CorrelationID string `json:"correlation_id"`
	BatchID       string `json:"batch_id,omitempty"`
}

// Progress is the in-memory snapshot parsed from tool output. It is visible
// to status queries but never persisted.
type Progress struct {
	Percent    float64   `json:"percent"`
	ETA        string    `json:"eta,omitempty"`
	Throughput string    `json:"throughput,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Outcome is the resolved result of one external tool run.
type Outcome struct {
	Success   bool
	Reason    FailReason
	ReasonTag string
	ExitCode  int
	Elapsed   time.Duration
}

// FailedEntry is one line of the failed audit log.
type FailedEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
}

// Disposition classifies the immediate answer to a submission.
type Disposition string

// Submission dispositions returned by the manager.
const (
	SubmissionAccepted  Disposition = "accepted"
	SubmissionDuplicate Disposition = "duplicate"
	SubmissionBatch     Disposition = "batch"
	SubmissionEmpty     Disposition = "empty"
)

// Submission is the raw input received at the submission boundary.
type Submission struct {
	Text      string `json:"text"`
	Submitter string `json:"submitter"`
	Origin    Origin `json:"origin"`
}

// SubmitResult reports what the manager did with a submission.
type SubmitResult struct {
	Disposition Disposition `json:"disposition"`
	// Position is the number of jobs ahead of an accepted single job.
	// Zero means it is being processed now.
	Position int `json:"position,omitempty"`
	// MatchedPartition names which store rejected a duplicate.
	MatchedPartition Partition `json:"matched_partition,omitempty"`
	BatchID          string    `json:"batch_id,omitempty"`
	Queued           int       `json:"queued,omitempty"`
	Skipped          int       `json:"skipped,omitempty"`
}

// Status is the read-only view served to status queries.
type Status struct {
	Current    *Job      `json:"current,omitempty"`
	Progress   *Progress `json:"progress,omitempty"`
	QueueDepth int       `json:"queue_depth"`
}

// SignalKind classifies a single line of tool output.
type SignalKind int

// Signal kinds, in increasing terminal precedence: a generic error is soft,
// deleted/invalid are sticky terminal markers.
const (
	SignalNone SignalKind = iota
	SignalProgress
	SignalError
	SignalDeleted
	SignalInvalid
)

// Signal is the classification of one output line.
type Signal struct {
	Kind      SignalKind
	ReasonTag string
	Progress  Progress
}
