// Package worker implements the single-flight forwarding loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/batch"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/relay"
)

// StatusSink receives the worker's view of the job in flight. The queue
// manager implements it to serve status queries.
type StatusSink interface {
	SetCurrent(job relay.Job)
	SetProgress(p relay.Progress)
	ClearCurrent()
}

// BatchRecorder counts a member outcome and reports the closing summary.
type BatchRecorder interface {
	RecordBatchOutcome(batchID string, success bool) (batch.Summary, bool)
}

// Config controls Worker behavior.
type Config struct {
	// Cooldown is how long the loop pauses after any failed run.
	Cooldown time.Duration
}

// Worker consumes queued jobs one at a time and forwards each through the
// external tool. At most one job is ever in flight.
type Worker struct {
	queue    relay.Queue
	ledger   relay.Ledger
	dedup    relay.DedupIndex
	runner   relay.Runner
	notifier relay.Notifier
	batches  BatchRecorder
	status   StatusSink
	clock    relay.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue relay.Queue,
	ledger relay.Ledger,
	dedup relay.DedupIndex,
	runner relay.Runner,
	notifier relay.Notifier,
	batches BatchRecorder,
	status StatusSink,
	clock relay.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		ledger:   ledger,
		dedup:    dedup,
		runner:   runner,
		notifier: notifier,
		batches:  batches,
		status:   status,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks on the queue and processes jobs until ctx is canceled or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, relay.ErrQueueClosed) {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job relay.Job) {
	logger := w.logger.With(
		zap.String("id", job.ID),
		zap.String("correlation_id", job.CorrelationID),
	)

	if err := w.ledger.Claim(job.ID); err != nil {
		// A parked in-flight record or an I/O error blocks the claim.
		// Put the job back at the front and retry after the cooldown;
		// its queued record was not touched, so nothing is lost.
		logger.Error("claim failed, requeueing job", zap.Error(err))
		if qErr := w.queue.EnqueueFront(ctx, job); qErr != nil {
			logger.Error("requeue after failed claim failed", zap.Error(qErr))
		}
		w.cooldown(ctx)
		return
	}
	w.status.SetCurrent(job)
	defer w.status.ClearCurrent()

	logger.Info("forwarding started", zap.String("submitter", job.Submitter))
	start := w.clock.Now()
	outcome, err := w.runner.Forward(ctx, job.ID, func(p relay.Progress) {
		w.status.SetProgress(p)
	})
	if err != nil {
		outcome = relay.Outcome{
			Success: false,
			Reason:  relay.FailGeneric,
			Elapsed: w.clock.Now().Sub(start),
		}
		logger.Error("tool invocation failed", zap.Error(err))
	}
	metrics.ObserveForward(outcome.Elapsed)

	if outcome.Success {
		w.finishSuccess(ctx, job, outcome, logger)
		return
	}
	w.finishFailure(ctx, job, outcome, logger)
	w.cooldown(ctx)
}

// finishSuccess notifies first and only then marks the job done. If the
// notification cannot be delivered the job stays in flight, so a restart
// retries it instead of silently swallowing the result.
func (w *Worker) finishSuccess(ctx context.Context, job relay.Job, outcome relay.Outcome, logger *zap.Logger) {
	text := fmt.Sprintf("forwarded %s in %s", job.ID, outcome.Elapsed.Round(time.Second))
	if err := w.notifier.Notify(ctx, job.Origin, text); err != nil {
		metrics.ObserveNotifyFailure()
		logger.Error("success notification failed, leaving job in flight", zap.Error(err))
		return
	}
	if err := w.ledger.Complete(job.ID); err != nil {
		logger.Error("recording completion failed, leaving job in flight", zap.Error(err))
		return
	}
	w.dedup.MarkProcessed(ctx, job.ID)
	metrics.ObserveJob("success")
	logger.Info("forwarding finished", zap.Duration("elapsed", outcome.Elapsed))
	w.recordBatch(ctx, job, true)
}

func (w *Worker) finishFailure(ctx context.Context, job relay.Job, outcome relay.Outcome, logger *zap.Logger) {
	reason := string(outcome.Reason)
	if outcome.ReasonTag != "" {
		reason += ":" + outcome.ReasonTag
	}
	if err := w.ledger.Fail(job.ID, reason, w.clock.Now()); err != nil {
		logger.Error("recording failure failed, leaving job in flight", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(outcome.Reason))
	logger.Warn("forwarding failed",
		zap.String("reason", reason),
		zap.Int("exit_code", outcome.ExitCode),
	)

	text := fmt.Sprintf("could not forward %s: %s", job.ID, failureText(outcome))
	if err := w.notifier.Notify(ctx, job.Origin, text); err != nil {
		metrics.ObserveNotifyFailure()
		logger.Error("failure notification failed", zap.Error(err))
	}
	w.recordBatch(ctx, job, false)
}

func (w *Worker) recordBatch(ctx context.Context, job relay.Job, success bool) {
	if job.BatchID == "" {
		return
	}
	summary, closed := w.batches.RecordBatchOutcome(job.BatchID, success)
	if !closed {
		return
	}
	text := fmt.Sprintf("batch finished: %d forwarded, %d failed of %d",
		summary.Completed, summary.Failed, summary.Total)
	if err := w.notifier.Notify(ctx, summary.Origin, text); err != nil {
		metrics.ObserveNotifyFailure()
		w.logger.Error("batch notification failed",
			zap.String("batch_id", summary.BatchID),
			zap.Error(err),
		)
	}
}

func failureText(outcome relay.Outcome) string {
	switch outcome.Reason {
	case relay.FailDeleted:
		return "the message appears to be deleted"
	case relay.FailInvalid:
		return "the link is invalid"
	default:
		if outcome.ReasonTag != "" {
			return outcome.ReasonTag
		}
		return fmt.Sprintf("tool exited with code %d", outcome.ExitCode)
	}
}

func (w *Worker) cooldown(ctx context.Context) {
	t := time.NewTimer(w.cfg.Cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
