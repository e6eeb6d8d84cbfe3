package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/mtessaro/stakewatch/internal/chainstream"

	"github.com/redis/go-redis/v9"
)

// checkpointKey stores the last fully processed block height. It has no
// expiration: a stale checkpoint is recovered from by the gap backfill, a
// lost one only by re-reading from the tip.
const checkpointKey = "chainstream:checkpoint"

var _ chainstream.CheckpointStorage = (*client)(nil)

// SaveLastHeight implements chainstream.CheckpointStorage.
func (c *client) SaveLastHeight(ctx context.Context, height uint64) error {
	return c.conn.Set(ctx, checkpointKey, strconv.FormatUint(height, 10), 0).Err()
}

// LoadLastHeight implements chainstream.CheckpointStorage. It returns
// chainstream.ErrNoCheckpointFound when no height was ever persisted.
func (c *client) LoadLastHeight(ctx context.Context) (uint64, error) {
	val, err := c.conn.Get(ctx, checkpointKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = chainstream.ErrNoCheckpointFound
		}
		return 0, err
	}

	return strconv.ParseUint(val, 10, 64)
}
