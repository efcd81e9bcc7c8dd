// Package runner invokes the external forwarding tool as a subprocess and
// resolves the outcome of each run from its merged output stream.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/classify"
	"github.com/relayq/relayq/internal/relay"
)

// Config controls how the tool is invoked.
type Config struct {
	// Path is the tool executable, e.g. "tdl".
	Path string
	// ExtraArgs are appended after the identifier, e.g. performance flags.
	ExtraArgs []string
}

// Runner implements relay.Runner over os/exec.
type Runner struct {
	cfg        Config
	classifier relay.Classifier
	clock      relay.Clock
	logger     *zap.Logger
}

// New constructs a Runner.
func New(cfg Config, classifier relay.Classifier, clock relay.Clock, logger *zap.Logger) *Runner {
	if cfg.Path == "" {
		cfg.Path = "tdl"
	}
	if classifier == nil {
		classifier = classify.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, classifier: classifier, clock: clock, logger: logger}
}

// Forward runs `tool forward --from <id>`, scanning merged stdout/stderr
// line by line. Progress lines are pushed through onProgress; terminal
// markers and the exit code resolve the outcome. A non-nil error means the
// tool could not be run at all.
func (r *Runner) Forward(ctx context.Context, id string, onProgress func(relay.Progress)) (relay.Outcome, error) {
	start := r.clock.Now()
	cmd := exec.CommandContext(ctx, r.cfg.Path, r.args(id)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return relay.Outcome{}, fmt.Errorf("pipe tool output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return relay.Outcome{}, fmt.Errorf("start %s: %w", r.cfg.Path, err)
	}

	run := classify.NewRun(r.classifier)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.logger.Debug("tool output", zap.String("id", id), zap.String("line", line))
		if p, ok := run.Observe(line); ok && onProgress != nil {
			p.UpdatedAt = r.clock.Now()
			onProgress(p)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("tool output read failed", zap.String("id", id), zap.Error(err))
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return relay.Outcome{}, fmt.Errorf("wait for %s: %w", r.cfg.Path, err)
		}
	}

	reason, tag, success := run.Resolve(exitCode)
	return relay.Outcome{
		Success:   success,
		Reason:    reason,
		ReasonTag: tag,
		ExitCode:  exitCode,
		Elapsed:   r.clock.Now().Sub(start),
	}, nil
}

func (r *Runner) args(id string) []string {
	args := []string{"forward", "--from", id}
	return append(args, r.cfg.ExtraArgs...)
}

// scanLines splits on \n and \r so progress-bar rewrites show up as lines.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, dropCR(data[:i]), nil
	}
	if atEOF {
		return len(data), dropCR(data), nil
	}
	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	return bytes.TrimRight(data, "\r\n")
}

var _ relay.Runner = (*Runner)(nil)
