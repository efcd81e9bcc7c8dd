// Package manager owns the mutable queue state: submissions, duplicate
// rejection, the batch table, the current-job snapshot, and the
// administrative operations on each partition. All chat- or API-facing
// handlers go through one Manager instead of ambient globals.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/batch"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/relay"
)

// Config controls Manager behavior.
type Config struct {
	// RangeLimit caps range-shorthand expansion.
	RangeLimit int
}

// Manager coordinates the queue, ledger, dedup index, and batch tracker.
type Manager struct {
	ledger  relay.Ledger
	queue   relay.Queue
	dedup   relay.DedupIndex
	batches *batch.Tracker
	idGen   relay.IDGenerator
	logger  *zap.Logger
	cfg     Config

	// submitMu serializes the duplicate check with the persist+enqueue
	// that follows it, so concurrent producers racing on one identifier
	// cannot all pass the check and enqueue it more than once.
	submitMu sync.Mutex

	mu       sync.Mutex
	current  *relay.Job
	progress *relay.Progress
}

// New constructs a Manager.
func New(
	ledger relay.Ledger,
	queue relay.Queue,
	dedup relay.DedupIndex,
	batches *batch.Tracker,
	idGen relay.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.RangeLimit <= 0 {
		cfg.RangeLimit = relay.DefaultRangeLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ledger:  ledger,
		queue:   queue,
		dedup:   dedup,
		batches: batches,
		idGen:   idGen,
		logger:  logger,
		cfg:     cfg,
	}
}

// Submit accepts raw submission text: a range shorthand, a single link, or
// one link per line. Each distinct identifier is checked against done,
// in-flight, and queued, in that order; survivors are persisted to the
// queued partition before becoming visible to the worker.
func (m *Manager) Submit(ctx context.Context, sub relay.Submission) (relay.SubmitResult, error) {
	ids := m.parse(sub.Text)
	if len(ids) == 0 {
		return relay.SubmitResult{Disposition: relay.SubmissionEmpty}, nil
	}

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	if len(ids) == 1 {
		return m.submitSingle(ctx, sub, ids[0])
	}
	return m.submitBatch(ctx, sub, ids)
}

func (m *Manager) submitSingle(ctx context.Context, sub relay.Submission, id string) (relay.SubmitResult, error) {
	matched, dup, err := m.lookupDuplicate(ctx, id)
	if err != nil {
		return relay.SubmitResult{}, err
	}
	if dup {
		m.logger.Info("duplicate submission rejected",
			zap.String("id", id),
			zap.String("partition", string(matched)),
			zap.String("submitter", sub.Submitter),
		)
		metrics.ObserveDuplicate(string(matched))
		return relay.SubmitResult{Disposition: relay.SubmissionDuplicate, MatchedPartition: matched}, nil
	}

	ahead := m.jobsAhead()
	job, err := m.enqueue(ctx, sub, id, "")
	if err != nil {
		return relay.SubmitResult{}, err
	}
	m.logger.Info("job accepted",
		zap.String("id", job.ID),
		zap.String("submitter", sub.Submitter),
		zap.Int("position", ahead),
	)
	return relay.SubmitResult{Disposition: relay.SubmissionAccepted, Position: ahead}, nil
}

func (m *Manager) submitBatch(ctx context.Context, sub relay.Submission, ids []string) (relay.SubmitResult, error) {
	fresh := make([]string, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		matched, dup, err := m.lookupDuplicate(ctx, id)
		if err != nil {
			return relay.SubmitResult{}, err
		}
		if dup {
			skipped++
			m.logger.Info("duplicate skipped in batch",
				zap.String("id", id),
				zap.String("partition", string(matched)),
			)
			metrics.ObserveDuplicate(string(matched))
			continue
		}
		fresh = append(fresh, id)
	}

	result := relay.SubmitResult{
		Disposition: relay.SubmissionBatch,
		Queued:      len(fresh),
		Skipped:     skipped,
	}
	if len(fresh) == 0 {
		return result, nil
	}

	batchID := ""
	if len(fresh) > 1 {
		var err error
		batchID, err = m.batches.Open(sub.Origin, len(fresh))
		if err != nil {
			return relay.SubmitResult{}, fmt.Errorf("open batch: %w", err)
		}
		result.BatchID = batchID
	}
	for _, id := range fresh {
		if _, err := m.enqueue(ctx, sub, id, batchID); err != nil {
			return relay.SubmitResult{}, err
		}
	}
	m.logger.Info("batch accepted",
		zap.String("batch_id", batchID),
		zap.Int("queued", len(fresh)),
		zap.Int("skipped", skipped),
	)
	return result, nil
}

// parse expands the range shorthand when the text has that exact shape,
// otherwise treats each non-empty line as one link. Repeats within one
// submission collapse to the first occurrence.
func (m *Manager) parse(text string) []string {
	if ids := relay.ExpandRange(text, m.cfg.RangeLimit); ids != nil {
		return ids
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, line := range strings.Split(text, "\n") {
		id := relay.Normalize(line)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// lookupDuplicate checks done, then in-flight, then queued. The precedence
// keeps rejection messages deterministic even if a transition is mid-way.
func (m *Manager) lookupDuplicate(ctx context.Context, id string) (relay.Partition, bool, error) {
	done, err := m.dedup.IsProcessed(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("duplicate lookup: %w", err)
	}
	if done {
		metrics.ObserveDedupLookup("hit")
		return relay.PartitionDone, true, nil
	}
	metrics.ObserveDedupLookup("miss")
	inflight, err := m.ledger.Contains(relay.PartitionInFlight, id)
	if err != nil {
		return "", false, fmt.Errorf("duplicate lookup: %w", err)
	}
	if inflight {
		return relay.PartitionInFlight, true, nil
	}
	queued, err := m.ledger.Contains(relay.PartitionQueued, id)
	if err != nil {
		return "", false, fmt.Errorf("duplicate lookup: %w", err)
	}
	if queued {
		return relay.PartitionQueued, true, nil
	}
	return "", false, nil
}

// enqueue persists the job to the queued partition and only then makes it
// visible to the worker, so the in-memory queue never runs ahead of the
// durable store.
func (m *Manager) enqueue(ctx context.Context, sub relay.Submission, id, batchID string) (relay.Job, error) {
	corrID, err := m.idGen.NewID()
	if err != nil {
		return relay.Job{}, fmt.Errorf("generate correlation id: %w", err)
	}
	job := relay.Job{
		RawText:       strings.TrimSpace(sub.Text),
		ID:            id,
		Submitter:     sub.Submitter,
		Origin:        sub.Origin,
		CorrelationID: corrID,
		BatchID:       batchID,
	}
	if err := m.ledger.Append(relay.PartitionQueued, id); err != nil {
		return relay.Job{}, fmt.Errorf("persist queued job: %w", err)
	}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		// roll the durable write back so the stores stay mirrored
		if _, rbErr := m.ledger.Remove(relay.PartitionQueued, id); rbErr != nil {
			m.logger.Error("rollback of queued record failed", zap.String("id", id), zap.Error(rbErr))
		}
		return relay.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.SetQueueDepth(m.queue.Len())
	return job, nil
}

func (m *Manager) jobsAhead() int {
	ahead := m.queue.Len()
	m.mu.Lock()
	if m.current != nil {
		ahead++
	}
	m.mu.Unlock()
	return ahead
}

// Recover reconciles the durable stores back into the in-memory queue on
// startup. An interrupted in-flight job goes first, then the queued records
// in stored order; at-least-once semantics for the interrupted job only.
func (m *Manager) Recover(ctx context.Context) error {
	inflight, err := m.ledger.ReadAll(relay.PartitionInFlight)
	if err != nil {
		return fmt.Errorf("recover inflight: %w", err)
	}
	queued, err := m.ledger.ReadAll(relay.PartitionQueued)
	if err != nil {
		return fmt.Errorf("recover queued: %w", err)
	}
	for _, id := range queued {
		if err := m.queue.Enqueue(ctx, m.recoveredJob(id)); err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
	}
	for _, id := range inflight {
		if err := m.queue.EnqueueFront(ctx, m.recoveredJob(id)); err != nil {
			return fmt.Errorf("requeue interrupted %s: %w", id, err)
		}
	}
	if n := len(inflight) + len(queued); n > 0 {
		m.logger.Info("recovered jobs from durable stores",
			zap.Int("interrupted", len(inflight)),
			zap.Int("queued", len(queued)),
		)
	}
	metrics.SetQueueDepth(m.queue.Len())
	return nil
}

func (m *Manager) recoveredJob(id string) relay.Job {
	corrID, err := m.idGen.NewID()
	if err != nil {
		corrID = ""
	}
	return relay.Job{RawText: id, ID: id, Submitter: "recovered", CorrelationID: corrID}
}

// Remove cancels a queued-but-not-yet-claimed job.
func (m *Manager) Remove(id string) (bool, error) {
	id = relay.Normalize(id)
	inQueue := m.queue.Remove(id)
	inStore, err := m.ledger.Remove(relay.PartitionQueued, id)
	if err != nil {
		return false, fmt.Errorf("remove queued job: %w", err)
	}
	metrics.SetQueueDepth(m.queue.Len())
	return inQueue || inStore, nil
}

// ClearQueue drops every pending job and returns how many were removed.
func (m *Manager) ClearQueue() (int, error) {
	n := m.queue.Drain()
	if _, err := m.ledger.Clear(relay.PartitionQueued); err != nil {
		return n, fmt.Errorf("clear queued partition: %w", err)
	}
	metrics.SetQueueDepth(0)
	return n, nil
}

// ClearDone empties the done partition and the accelerator together.
func (m *Manager) ClearDone(ctx context.Context) (int, error) {
	n, err := m.ledger.Clear(relay.PartitionDone)
	if err != nil {
		return 0, fmt.Errorf("clear done partition: %w", err)
	}
	m.dedup.Clear(ctx)
	return n, nil
}

// ForgetDone removes one identifier from the done partition and the
// accelerator, making it eligible for resubmission.
func (m *Manager) ForgetDone(ctx context.Context, id string) (bool, error) {
	id = relay.Normalize(id)
	found, err := m.ledger.Remove(relay.PartitionDone, id)
	if err != nil {
		return false, fmt.Errorf("remove done record: %w", err)
	}
	m.dedup.Forget(ctx, id)
	return found, nil
}

// ClearFailed empties the failed audit log.
func (m *Manager) ClearFailed() (int, error) {
	return m.ledger.ClearFailed()
}

// Status returns the current in-flight job, its progress snapshot, and the
// queue depth.
func (m *Manager) Status() relay.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := relay.Status{QueueDepth: m.queue.Len()}
	if m.current != nil {
		cp := *m.current
		st.Current = &cp
	}
	if m.progress != nil {
		cp := *m.progress
		st.Progress = &cp
	}
	return st
}

// ListQueued returns one page of pending jobs in queue order.
func (m *Manager) ListQueued(page, perPage int) ([]relay.Job, int) {
	jobs := m.queue.Snapshot()
	lo, hi := pageBounds(len(jobs), page, perPage)
	return jobs[lo:hi], len(jobs)
}

// ListDone returns one page of completed identifiers, most recent first.
func (m *Manager) ListDone(page, perPage int) ([]string, int, error) {
	ids, err := m.ledger.ReadAll(relay.PartitionDone)
	if err != nil {
		return nil, 0, fmt.Errorf("list done: %w", err)
	}
	reverseStrings(ids)
	lo, hi := pageBounds(len(ids), page, perPage)
	return ids[lo:hi], len(ids), nil
}

// ListFailed returns one page of the failed audit log, most recent first.
func (m *Manager) ListFailed(page, perPage int) ([]relay.FailedEntry, int, error) {
	entries, err := m.ledger.ReadFailed()
	if err != nil {
		return nil, 0, fmt.Errorf("list failed: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	lo, hi := pageBounds(len(entries), page, perPage)
	return entries[lo:hi], len(entries), nil
}

// SetCurrent records the job the worker just claimed.
func (m *Manager) SetCurrent(job relay.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &job
	m.progress = nil
}

// SetProgress updates the in-memory progress snapshot.
func (m *Manager) SetProgress(p relay.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = &p
}

// ClearCurrent wipes the current-job and progress snapshot after a run.
func (m *Manager) ClearCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.progress = nil
	metrics.SetQueueDepth(m.queue.Len())
}

// RecordBatchOutcome counts one member outcome and returns the summary
// when the batch closed.
func (m *Manager) RecordBatchOutcome(batchID string, success bool) (batch.Summary, bool) {
	return m.batches.Record(batchID, success)
}

func pageBounds(n, page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	lo := (page - 1) * perPage
	if lo > n {
		lo = n
	}
	hi := lo + perPage
	if hi > n {
		hi = n
	}
	return lo, hi
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
