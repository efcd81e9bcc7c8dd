package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/relay"
)

// fakeLedger serves only the done partition reads the index needs.
type fakeLedger struct {
	done []string
}

func (f *fakeLedger) ReadAll(p relay.Partition) ([]string, error) {
	if p == relay.PartitionDone {
		return append([]string(nil), f.done...), nil
	}
	return nil, nil
}

func (f *fakeLedger) Contains(p relay.Partition, id string) (bool, error) {
	if p != relay.PartitionDone {
		return false, nil
	}
	for _, d := range f.done {
		if d == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) WriteAll(relay.Partition, []string) error     { return nil }
func (f *fakeLedger) Append(relay.Partition, string) error         { return nil }
func (f *fakeLedger) Remove(relay.Partition, string) (bool, error) { return false, nil }
func (f *fakeLedger) Clear(relay.Partition) (int, error)           { return 0, nil }
func (f *fakeLedger) Claim(string) error                           { return nil }
func (f *fakeLedger) Complete(string) error                        { return nil }
func (f *fakeLedger) Fail(string, string, time.Time) error         { return nil }
func (f *fakeLedger) ReadFailed() ([]relay.FailedEntry, error)     { return nil, nil }
func (f *fakeLedger) ClearFailed() (int, error)                    { return 0, nil }

func TestIndexFallbackWithoutAccelerator(t *testing.T) {
	t.Parallel()

	idx := New(nil, &fakeLedger{done: []string{"a", "b"}}, zap.NewNop())
	require.NoError(t, idx.Warm(context.Background()))

	ok, err := idx.IsProcessed(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idx.IsProcessed(context.Background(), "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	// mutations without an accelerator are no-ops, never errors
	idx.MarkProcessed(context.Background(), "c")
	idx.Forget(context.Background(), "a")
	idx.Clear(context.Background())
}

func TestIndexDegradesOnUnreachableAccelerator(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	idx := New(rdb, &fakeLedger{done: []string{"a"}}, zap.NewNop())

	// warm swallows accelerator failures
	require.NoError(t, idx.Warm(context.Background()))

	ok, err := idx.IsProcessed(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok, "unreachable accelerator must fall back to the ledger")

	ok, err = idx.IsProcessed(context.Background(), "new")
	require.NoError(t, err)
	assert.False(t, ok)

	idx.MarkProcessed(context.Background(), "a")
	idx.Forget(context.Background(), "a")
	idx.Clear(context.Background())
}
