package runeyield

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/web3-frozen/lp-monitor/internal/metrics"
	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

// PoolFetcher serves a pool's state at a height.
type PoolFetcher interface {
	GetPoolState(ctx context.Context, pool string, height int64) (thorchain.RawPoolState, error)
}

// StateStore is an optional durable layer below the in-memory cache.
type StateStore interface {
	Load(ctx context.Context, key HeightKey) (PoolState, bool, error)
	Save(ctx context.Context, state PoolState) error
}

// PoolStateCache memoizes pool states by (pool, height). Entries are never
// evicted since finalized history does not change. Pools that did not exist
// at a height are remembered too.
type PoolStateCache struct {
	fetcher PoolFetcher
	store   StateStore
	logger  *slog.Logger
	workers pond.Pool

	states *xsync.Map[HeightKey, PoolState]
	absent *xsync.Map[HeightKey, struct{}]
}

// NewPoolStateCache creates a cache fetching at most workers heights at a
// time during Prefetch. store may be nil.
func NewPoolStateCache(fetcher PoolFetcher, store StateStore, workers int, logger *slog.Logger) *PoolStateCache {
	if workers <= 0 {
		workers = 8
	}
	return &PoolStateCache{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
		workers: pond.NewPool(workers),
		states:  xsync.NewMap[HeightKey, PoolState](),
		absent:  xsync.NewMap[HeightKey, struct{}](),
	}
}

// Close stops the fetch workers.
func (c *PoolStateCache) Close() {
	c.workers.StopAndWait()
}

// Size is the number of memoized states.
func (c *PoolStateCache) Size() int {
	return c.states.Size()
}

func (c *PoolStateCache) remember(key HeightKey, st PoolState) {
	c.states.Store(key, st)
	metrics.PoolCacheEntries.Set(float64(c.Size()))
}

// Get returns the state of a pool that must exist at the height.
func (c *PoolStateCache) Get(ctx context.Context, pool string, height int64) (PoolState, error) {
	st, ok, err := c.Lookup(ctx, pool, height)
	if err != nil {
		return PoolState{}, err
	}
	if !ok {
		return PoolState{}, upstream("fetch pool state", pool, height, thorchain.ErrNotFound)
	}
	return st, nil
}

// Lookup returns ok=false when the pool did not exist at the height. Any
// other upstream failure is an error.
func (c *PoolStateCache) Lookup(ctx context.Context, pool string, height int64) (PoolState, bool, error) {
	key := HeightKey{Pool: pool, Height: height}.normalize()

	if st, ok := c.states.Load(key); ok {
		metrics.PoolCacheLookups.WithLabelValues("memory").Inc()
		return st, true, nil
	}
	if _, ok := c.absent.Load(key); ok {
		metrics.PoolCacheLookups.WithLabelValues("absent").Inc()
		return PoolState{}, false, nil
	}

	if c.store != nil {
		st, ok, err := c.store.Load(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("pool state store load failed", "pool", key.Pool, "height", key.Height, "error", err)
		case ok:
			metrics.PoolCacheLookups.WithLabelValues("store").Inc()
			c.remember(key, st)
			return st, true, nil
		}
	}

	metrics.PoolCacheLookups.WithLabelValues("fetch").Inc()
	raw, err := c.fetcher.GetPoolState(ctx, key.Pool, key.Height)
	if errors.Is(err, thorchain.ErrNotFound) {
		c.absent.Store(key, struct{}{})
		return PoolState{}, false, nil
	}
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("pool_state").Inc()
		return PoolState{}, false, upstream("fetch pool state", key.Pool, key.Height, err)
	}

	st := poolStateFromRaw(key.Height, raw)
	st.Pool = key.Pool
	// concurrent fetches of one key store the same value
	c.remember(key, st)
	if c.store != nil {
		if err := c.store.Save(ctx, st); err != nil {
			c.logger.Warn("pool state store save failed", "pool", key.Pool, "height", key.Height, "error", err)
		}
	}
	return st, true, nil
}

// Prefetch loads the distinct keys concurrently. It fails on the first
// upstream error; missing pools are not errors here.
func (c *PoolStateCache) Prefetch(ctx context.Context, keys []HeightKey) error {
	seen := make(map[HeightKey]bool, len(keys))
	todo := make([]HeightKey, 0, len(keys))
	for _, k := range keys {
		k = k.normalize()
		if k.Height <= 0 || seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := c.states.Load(k); ok {
			continue
		}
		if _, ok := c.absent.Load(k); ok {
			continue
		}
		todo = append(todo, k)
	}
	if len(todo) == 0 {
		return nil
	}

	group := c.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, k := range todo {
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			_, _, err := c.Lookup(groupCtx, k.Pool, k.Height)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, pond.ErrGroupStopped) && ctx.Err() != nil {
			return upstream("prefetch pool states", "", 0, ctx.Err())
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return upstream("prefetch pool states", "", 0, err)
		}
		return err
	}
	return nil
}
