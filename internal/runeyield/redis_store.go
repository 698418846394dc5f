package runeyield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const poolStateKeyPrefix = "PoolState:"

// RedisStateStore keeps pool states in one Redis hash per pool, field is the
// height. Nothing expires.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func (s *RedisStateStore) Load(ctx context.Context, key HeightKey) (PoolState, bool, error) {
	raw, err := s.rdb.HGet(ctx, poolStateKeyPrefix+key.Pool, strconv.FormatInt(key.Height, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PoolState{}, false, nil
	}
	if err != nil {
		return PoolState{}, false, fmt.Errorf("redis hget %s: %w", key.Pool, err)
	}
	var st PoolState
	if err := json.Unmarshal(raw, &st); err != nil {
		return PoolState{}, false, fmt.Errorf("decode pool state %s@%d: %w", key.Pool, key.Height, err)
	}
	return st, true, nil
}

func (s *RedisStateStore) Save(ctx context.Context, state PoolState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, poolStateKeyPrefix+state.Pool, strconv.FormatInt(state.Height, 10), raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", state.Pool, err)
	}
	return nil
}
