// Package dedup answers "already processed" queries for submission-time
// decisions. Lookups go to a Redis set when one is configured; the done
// partition of the ledger is always the system of record, so a missing or
// failing accelerator only makes lookups slower, never wrong.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/relay"
)

// DefaultKey is the Redis set holding processed identifiers.
const DefaultKey = "relayq:processed"

// Index implements relay.DedupIndex over an optional Redis accelerator and
// the ledger fallback.
type Index struct {
	rdb      *redis.Client
	ledger   relay.Ledger
	logger   *zap.Logger
	key      string
	warnOnce sync.Once
}

// New constructs an Index. rdb may be nil, in which case every lookup scans
// the done partition.
func New(rdb *redis.Client, ledger relay.Ledger, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{rdb: rdb, ledger: ledger, logger: logger, key: DefaultKey}
}

// WithKey overrides the Redis set name. Empty keeps the default.
func (i *Index) WithKey(key string) *Index {
	if key != "" {
		i.key = key
	}
	return i
}

// Warm populates the accelerator from the done partition. Called once at
// startup; a failure leaves the index in fallback mode.
func (i *Index) Warm(ctx context.Context) error {
	if i.rdb == nil {
		return nil
	}
	ids, err := i.ledger.ReadAll(relay.PartitionDone)
	if err != nil {
		return fmt.Errorf("warm dedup index: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	pipe := i.rdb.Pipeline()
	for _, id := range ids {
		pipe.SAdd(ctx, i.key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		i.degrade(err)
		return nil
	}
	i.logger.Info("dedup accelerator warmed", zap.Int("identifiers", len(ids)))
	return nil
}

// IsProcessed reports whether id has completed successfully at least once.
// Accelerator errors degrade silently to the ledger scan.
func (i *Index) IsProcessed(ctx context.Context, id string) (bool, error) {
	if i.rdb != nil {
		member, err := i.rdb.SIsMember(ctx, i.key, id).Result()
		if err == nil {
			return member, nil
		}
		i.degrade(err)
	}
	ok, err := i.ledger.Contains(relay.PartitionDone, id)
	if err != nil {
		return false, fmt.Errorf("dedup fallback lookup: %w", err)
	}
	return ok, nil
}

// MarkProcessed records id in the accelerator. The done partition itself is
// written by the ledger transition, so nothing here can lose data.
func (i *Index) MarkProcessed(ctx context.Context, id string) {
	if i.rdb == nil {
		return
	}
	if err := i.rdb.SAdd(ctx, i.key, id).Err(); err != nil {
		i.degrade(err)
	}
}

// Forget drops id from the accelerator after an administrative delete.
func (i *Index) Forget(ctx context.Context, id string) {
	if i.rdb == nil {
		return
	}
	if err := i.rdb.SRem(ctx, i.key, id).Err(); err != nil {
		i.degrade(err)
	}
}

// Clear empties the accelerator after the done partition has been cleared.
func (i *Index) Clear(ctx context.Context) {
	if i.rdb == nil {
		return
	}
	if err := i.rdb.Del(ctx, i.key).Err(); err != nil {
		i.degrade(err)
	}
}

var _ relay.DedupIndex = (*Index)(nil)

func (i *Index) degrade(err error) {
	i.warnOnce.Do(func() {
		i.logger.Warn("dedup accelerator unreachable, falling back to ledger scans", zap.Error(err))
	})
}
