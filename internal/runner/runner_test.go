package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/classify"
	"github.com/relayq/relayq/internal/relay"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// writeStub creates an executable that prints the given script's output.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700))
	return path
}

func newRunner(path string) *Runner {
	return New(Config{Path: path}, classify.New(), &fixedClock{t: time.Unix(1000, 0)}, zap.NewNop())
}

func TestForwardSuccess(t *testing.T) {
	t.Parallel()

	stub := writeStub(t, `echo "forwarding..."
echo "100% [eta:0s;2.0MB/s]"
exit 0`)
	var progress []relay.Progress
	out, err := newRunner(stub).Forward(context.Background(), "https://t.me/c/1/2", func(p relay.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, out.ExitCode)
	require.Len(t, progress, 1)
	assert.Equal(t, 100.0, progress[0].Percent)
	assert.Equal(t, "2.0MB/s", progress[0].Throughput)
	assert.False(t, progress[0].UpdatedAt.IsZero())
}

func TestForwardInvalidMarkerBeatsZeroExit(t *testing.T) {
	t.Parallel()

	stub := writeStub(t, `echo "skip: invalid message"
exit 0`)
	out, err := newRunner(stub).Forward(context.Background(), "id", nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, relay.FailInvalid, out.Reason)
	assert.Equal(t, classify.TagInvalidMessage, out.ReasonTag)
}

func TestForwardNonZeroExitIsGenericFailure(t *testing.T) {
	t.Parallel()

	stub := writeStub(t, `echo "something went sideways"
exit 3`)
	out, err := newRunner(stub).Forward(context.Background(), "id", nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, relay.FailGeneric, out.Reason)
	assert.Equal(t, 3, out.ExitCode)
}

func TestForwardDeletedMarkerOverridesGenericError(t *testing.T) {
	t.Parallel()

	stub := writeStub(t, `echo "Error: transient"
echo "message may be deleted"
exit 1`)
	out, err := newRunner(stub).Forward(context.Background(), "id", nil)
	require.NoError(t, err)
	assert.Equal(t, relay.FailDeleted, out.Reason)
	assert.Equal(t, classify.TagMessageDeleted, out.ReasonTag)
}

func TestForwardMissingToolReturnsError(t *testing.T) {
	t.Parallel()

	r := newRunner(filepath.Join(t.TempDir(), "no-such-tool"))
	_, err := r.Forward(context.Background(), "id", nil)
	assert.Error(t, err)
}

func TestArgsShape(t *testing.T) {
	t.Parallel()

	r := New(Config{Path: "tdl", ExtraArgs: []string{"--threads", "4"}}, nil, &fixedClock{}, nil)
	assert.Equal(t, []string{"forward", "--from", "https://t.me/c/1/2", "--threads", "4"}, r.args("https://t.me/c/1/2"))
}
