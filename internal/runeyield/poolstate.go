package runeyield

import (
	"strings"

	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

// PoolState is a pool's depths and units at one block height. Historical
// states never change once the block is final.
type PoolState struct {
	Pool       string  `json:"pool"`
	Height     int64   `json:"height"`
	AssetDepth float64 `json:"asset_depth"`
	RuneDepth  float64 `json:"rune_depth"`
	PoolUnits  int64   `json:"pool_units"`
	Decimals   int     `json:"decimals"`
	Status     string  `json:"status,omitempty"`
}

// HeightKey identifies a pool state in the cache.
type HeightKey struct {
	Pool   string
	Height int64
}

func (k HeightKey) normalize() HeightKey {
	return HeightKey{Pool: strings.ToUpper(k.Pool), Height: k.Height}
}

func poolStateFromRaw(height int64, raw thorchain.RawPoolState) PoolState {
	return PoolState{
		Pool:       strings.ToUpper(raw.Asset),
		Height:     height,
		AssetDepth: raw.AssetDepth,
		RuneDepth:  raw.RuneDepth,
		PoolUnits:  raw.PoolUnits,
		Decimals:   raw.Decimals,
		Status:     raw.Status,
	}
}

// IsEmpty is true when the pool has no depth on either side.
func (p PoolState) IsEmpty() bool {
	return p.RuneDepth <= 0 || p.AssetDepth <= 0
}

func (p PoolState) RunePerAsset() float64 {
	if p.AssetDepth <= 0 {
		return 0
	}
	return p.RuneDepth / p.AssetDepth
}

func (p PoolState) AssetPerRune() float64 {
	if p.RuneDepth <= 0 {
		return 0
	}
	return p.AssetDepth / p.RuneDepth
}

// Share returns the rune and asset redeemable for the given units.
func (p PoolState) Share(units int64) (runeAmt, assetAmt float64) {
	if p.PoolUnits <= 0 || units <= 0 {
		return 0, 0
	}
	frac := float64(units) / float64(p.PoolUnits)
	return frac * p.RuneDepth, frac * p.AssetDepth
}
