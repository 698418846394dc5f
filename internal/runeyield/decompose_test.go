package runeyield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pos(runeDepth, assetDepth float64, units, total int64, usdPerRune float64) Position {
	return BuildPosition(PoolState{Pool: testPool, RuneDepth: runeDepth, AssetDepth: assetDepth, PoolUnits: total}, units, usdPerRune)
}

func TestBuildPositionEmptyPool(t *testing.T) {
	tests := []struct {
		name  string
		state PoolState
		empty bool
	}{
		{"drained", PoolState{PoolUnits: 1000}, true},
		{"no asset", PoolState{RuneDepth: 500, PoolUnits: 1000}, true},
		{"no rune", PoolState{AssetDepth: 50, PoolUnits: 1000}, true},
		{"live", PoolState{RuneDepth: 500, AssetDepth: 50, PoolUnits: 1000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, tt.state.IsEmpty())
			p := BuildPosition(tt.state, 100, 2)
			assert.Equal(t, 2.0, p.USDPerRune)
			if tt.empty {
				assert.Zero(t, p.USDPerAsset)
				return
			}
			assert.Equal(t, 20.0, p.USDPerAsset)
			assert.InDelta(t, 200, p.NetValueUSD(), 1e-9)
		})
	}
}

func TestDecomposeConcreteScenario(t *testing.T) {
	w := ReturnWindow{
		Start: pos(1_000_000, 500_000, 15_000, 1_515_000, 1),
		End:   pos(1_200_000, 450_000, 15_000, 1_515_000, 1),
	}
	m := Decompose(w)

	assert.Less(t, m.ImpLossUSD, 0.0)
	assert.InDelta(t, -236.953, m.ImpLossUSD, 0.01)
	assert.GreaterOrEqual(t, m.FeeUSD, 0.0)
	assert.InDelta(t, 897.019, m.FeeUSD, 0.01)
	assert.InDelta(t, 3960.396, m.NetReturnUSD, 0.01)
	assert.InDelta(t, 3300.330, m.HoldReturnUSD, 0.01)
	assert.InDelta(t, m.FeeUSD+m.ImpLossUSD, m.UniswapReturnUSD, 1e-9)
	assert.InDelta(t, -0.010878, m.ImpLossPct, 1e-5)
}

func TestDecomposeUnchangedPrices(t *testing.T) {
	// depths grow proportionally, price stays at 2 rune per asset
	w := ReturnWindow{
		Start: pos(1_000_000, 500_000, 10_000, 1_000_000, 1.5),
		End:   pos(1_100_000, 550_000, 10_000, 1_000_000, 1.5),
	}
	m := Decompose(w)

	assert.InDelta(t, 0, m.ImpLossUSD, 1e-6)
	assert.InDelta(t, m.NetReturnUSD, m.FeeUSD, 1e-6)
	assert.Greater(t, m.FeeUSD, 0.0)
}

func TestDecomposeSameState(t *testing.T) {
	p := pos(1_000_000, 500_000, 15_000, 1_515_000, 2)
	m := Decompose(ReturnWindow{Start: p, End: p})

	assert.InDelta(t, 0, m.NetReturnUSD, 1e-9)
	assert.InDelta(t, 0, m.ImpLossUSD, 1e-6)
	assert.InDelta(t, 0, m.FeeUSD, 1e-6)
}

func TestDecomposeGuards(t *testing.T) {
	tests := []struct {
		name string
		w    ReturnWindow
	}{
		{"no end price", ReturnWindow{Start: pos(1000, 500, 10, 100, 1), End: pos(1000, 500, 10, 100, 0)}},
		{"empty start pool", ReturnWindow{Start: pos(0, 0, 10, 100, 1), End: pos(1000, 500, 10, 100, 1)}},
		{"zero units", ReturnWindow{Start: pos(1000, 500, 0, 100, 1), End: pos(1200, 450, 0, 100, 1)}},
		{"zero total units", ReturnWindow{Start: pos(1000, 500, 10, 0, 1), End: pos(1200, 450, 10, 0, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Decompose(tt.w)
			assert.Zero(t, m.FeeUSD)
			assert.Zero(t, m.ImpLossUSD)
			assert.Zero(t, m.ImpLossPct)
			assert.False(t, math.IsNaN(m.NetReturnUSD))
			assert.False(t, math.IsNaN(m.HoldReturnUSD))
		})
	}
}

// Along a fee-free path the pool keeps k = rune*asset and its units, so
// splitting the path must not create fees or change the net return.
func TestDecomposeSplitWindowsWithoutFees(t *testing.T) {
	const k = 1_000_000.0 * 500_000.0
	depthAt := func(runeDepth float64) (float64, float64) { return runeDepth, k / runeDepth }

	r0, a0 := depthAt(1_000_000)
	r1, a1 := depthAt(1_150_000)
	r2, a2 := depthAt(900_000)

	p0 := pos(r0, a0, 20_000, 1_000_000, 1.2)
	p1 := pos(r1, a1, 20_000, 1_000_000, 1.1)
	p2 := pos(r2, a2, 20_000, 1_000_000, 1.4)

	direct := Decompose(ReturnWindow{Start: p0, End: p2})
	split := Sum([]ReturnWindow{{Start: p0, End: p1}, {Start: p1, End: p2}})

	assert.InDelta(t, 0, direct.FeeUSD, 1e-6)
	assert.InDelta(t, 0, split.FeeUSD, 1e-6)
	assert.InDelta(t, direct.NetReturnUSD, split.NetReturnUSD, 1e-6)
	assert.InDelta(t, direct.FeeUSD, split.FeeUSD, 1e-6)
}

func TestReturnMetricsAdd(t *testing.T) {
	a := ReturnMetrics{HoldReturnUSD: 1, NetReturnUSD: 2, UniswapReturnUSD: 3, FeeUSD: 4, ImpLossUSD: -5, ImpLossPct: -0.1}
	b := ReturnMetrics{HoldReturnUSD: 10, NetReturnUSD: 20, UniswapReturnUSD: 30, FeeUSD: 40, ImpLossUSD: -50, ImpLossPct: -0.2}

	sum := a.Add(b)
	assert.Equal(t, sum, b.Add(a))
	assert.Equal(t, 11.0, sum.HoldReturnUSD)
	assert.Equal(t, 22.0, sum.NetReturnUSD)
	assert.Equal(t, 44.0, sum.FeeUSD)
	assert.Equal(t, -55.0, sum.ImpLossUSD)
	assert.InDelta(t, -0.3, sum.ImpLossPct, 1e-12)
	assert.Equal(t, a, a.Add(ReturnMetrics{}))
}
