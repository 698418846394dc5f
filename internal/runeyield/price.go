package runeyield

import (
	"context"
	"log/slog"

	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

// PriceOracle derives USD per RUNE at a height from the stable coin pools,
// read through the pool state cache.
type PriceOracle struct {
	cache       *PoolStateCache
	stableCoins []string
	logger      *slog.Logger
}

func NewPriceOracle(cache *PoolStateCache, stableCoins []string, logger *slog.Logger) *PriceOracle {
	return &PriceOracle{cache: cache, stableCoins: stableCoins, logger: logger}
}

// Keys lists the cache keys PriceAt will read for a height.
func (o *PriceOracle) Keys(height int64) []HeightKey {
	keys := make([]HeightKey, 0, len(o.stableCoins))
	for _, s := range o.stableCoins {
		keys = append(keys, HeightKey{Pool: s, Height: height})
	}
	return keys
}

// PriceAt returns 0, not an error, when no stable pool existed at the
// height. Callers degrade the USD figures in that case.
func (o *PriceOracle) PriceAt(ctx context.Context, height int64) (float64, error) {
	pools := make([]thorchain.RawPoolState, 0, len(o.stableCoins))
	for _, s := range o.stableCoins {
		st, ok, err := o.cache.Lookup(ctx, s, height)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		pools = append(pools, thorchain.RawPoolState{
			Asset:      st.Pool,
			RuneDepth:  st.RuneDepth,
			AssetDepth: st.AssetDepth,
		})
	}
	price := thorchain.StableRunePrice(pools, o.stableCoins)
	if price <= 0 {
		o.logger.Warn("no usd price at height", "height", height, "stable_pools", len(pools))
	}
	return price, nil
}
