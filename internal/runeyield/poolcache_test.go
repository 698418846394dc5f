package runeyield

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/lp-monitor/internal/metrics"
	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

func setupRedisStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStateStore(rdb), mr
}

func TestPoolCacheMemoizes(t *testing.T) {
	chain := newFakeChain()
	chain.setPool(testPool, 100, 1000, 10, 500)
	c := NewPoolStateCache(chain, nil, 2, discardLogger())
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		st, err := c.Get(ctx, "btc.btc", 100)
		require.NoError(t, err)
		assert.Equal(t, testPool, st.Pool)
		assert.Equal(t, int64(100), st.Height)
		assert.Equal(t, 1000.0, st.RuneDepth)
	}
	assert.Equal(t, 1, chain.fetchCount(testPool, 100))
	assert.Equal(t, 1, c.Size())
}

func TestPoolCacheMissingPool(t *testing.T) {
	chain := newFakeChain()
	c := NewPoolStateCache(chain, nil, 2, discardLogger())
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Lookup(ctx, testStable, 50)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Get(ctx, testStable, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, thorchain.ErrNotFound)

	// the miss is remembered
	assert.Equal(t, 1, chain.fetchCount(testStable, 50))
}

func TestPoolCacheUpstreamFailureNotMemoized(t *testing.T) {
	chain := newFakeChain()
	chain.fail[HeightKey{Pool: testPool, Height: 7}] = errors.New("connection refused")
	c := NewPoolStateCache(chain, nil, 2, discardLogger())
	defer c.Close()

	_, err := c.Get(context.Background(), testPool, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, thorchain.ErrNotFound)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, testPool, ue.Pool)
	assert.Equal(t, int64(7), ue.Height)

	delete(chain.fail, HeightKey{Pool: testPool, Height: 7})
	chain.setPool(testPool, 7, 1, 1, 1)
	_, err = c.Get(context.Background(), testPool, 7)
	require.NoError(t, err)
}

func TestPoolCachePrefetchDistinct(t *testing.T) {
	chain := newFakeChain()
	for h := int64(1); h <= 20; h++ {
		chain.setPool(testPool, h, float64(h*100), float64(h), 10)
	}
	c := NewPoolStateCache(chain, nil, 4, discardLogger())
	defer c.Close()

	var keys []HeightKey
	for h := int64(1); h <= 20; h++ {
		keys = append(keys, HeightKey{Pool: testPool, Height: h}, HeightKey{Pool: "btc.btc", Height: h})
		keys = append(keys, HeightKey{Pool: testStable, Height: h})
	}
	require.NoError(t, c.Prefetch(context.Background(), keys))

	for h := int64(1); h <= 20; h++ {
		assert.Equal(t, 1, chain.fetchCount(testPool, h))
		assert.Equal(t, 1, chain.fetchCount(testStable, h))
	}
	assert.Equal(t, 20, c.Size())
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.PoolCacheEntries))

	// everything is served from memory now
	require.NoError(t, c.Prefetch(context.Background(), keys))
	assert.Equal(t, 1, chain.fetchCount(testPool, 5))
}

func TestPoolCachePrefetchFails(t *testing.T) {
	chain := newFakeChain()
	chain.setPool(testPool, 1, 1, 1, 1)
	chain.fail[HeightKey{Pool: testPool, Height: 2}] = errors.New("pruned")
	c := NewPoolStateCache(chain, nil, 2, discardLogger())
	defer c.Close()

	err := c.Prefetch(context.Background(), []HeightKey{{Pool: testPool, Height: 1}, {Pool: testPool, Height: 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestPoolCacheRedisBacked(t *testing.T) {
	store, mr := setupRedisStore(t)
	chain := newFakeChain()
	chain.setPool(testPool, 42, 2000, 4, 99)

	first := NewPoolStateCache(chain, store, 2, discardLogger())
	_, err := first.Get(context.Background(), testPool, 42)
	require.NoError(t, err)
	first.Close()

	assert.True(t, mr.Exists("PoolState:"+testPool))
	fields, err := mr.HKeys("PoolState:" + testPool)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, fields)

	// a fresh process reads from redis instead of the node
	second := NewPoolStateCache(chain, store, 2, discardLogger())
	defer second.Close()
	st, err := second.Get(context.Background(), testPool, 42)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, st.RuneDepth)
	assert.Equal(t, int64(99), st.PoolUnits)
	assert.Equal(t, 1, chain.fetchCount(testPool, 42))
}

func TestPoolCacheRedisDownStillServes(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()
	chain := newFakeChain()
	chain.setPool(testPool, 3, 1, 1, 1)

	c := NewPoolStateCache(chain, store, 2, discardLogger())
	defer c.Close()
	_, err := c.Get(context.Background(), testPool, 3)
	require.NoError(t, err)
}
