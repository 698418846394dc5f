package runeyield

// Position is a wallet's ownership of a pool at one height. RuneBalance and
// AssetBalance are the whole pool's depths, not the wallet's share.
type Position struct {
	Pool           string
	Height         int64
	LiquidityUnits int64
	LiquidityTotal int64
	RuneBalance    float64
	AssetBalance   float64
	USDPerRune     float64
	USDPerAsset    float64
}

// BuildPosition snapshots a pool state for a unit count. An empty pool gets
// USDPerAsset 0.
func BuildPosition(state PoolState, units int64, usdPerRune float64) Position {
	p := Position{
		Pool:           state.Pool,
		Height:         state.Height,
		LiquidityUnits: units,
		LiquidityTotal: state.PoolUnits,
		RuneBalance:    state.RuneDepth,
		AssetBalance:   state.AssetDepth,
		USDPerRune:     usdPerRune,
	}
	if !state.IsEmpty() {
		p.USDPerAsset = usdPerRune * state.RunePerAsset()
	}
	return p
}

// Ownership is the wallet's fraction of the pool.
func (p Position) Ownership() float64 {
	if p.LiquidityTotal <= 0 {
		return 0
	}
	return float64(p.LiquidityUnits) / float64(p.LiquidityTotal)
}

func (p Position) RuneAmount() float64  { return p.Ownership() * p.RuneBalance }
func (p Position) AssetAmount() float64 { return p.Ownership() * p.AssetBalance }

// TotalUSD values the whole pool.
func (p Position) TotalUSD() float64 {
	return p.RuneBalance*p.USDPerRune + p.AssetBalance*p.USDPerAsset
}

// NetValueUSD values the wallet's share.
func (p Position) NetValueUSD() float64 {
	return p.Ownership() * p.TotalUSD()
}
