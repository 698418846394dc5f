package runeyield

import "math"

// ReturnMetrics splits a window's value change into a fee part and an
// impermanent loss part. Metrics of separate windows add up field by field.
type ReturnMetrics struct {
	HoldReturnUSD    float64 `json:"hold_return_usd"`
	NetReturnUSD     float64 `json:"net_return_usd"`
	UniswapReturnUSD float64 `json:"uniswap_return_usd"`
	FeeUSD           float64 `json:"fee_usd"`
	ImpLossUSD       float64 `json:"imp_loss_usd"`
	ImpLossPct       float64 `json:"imp_loss_pct"` // fraction, 0.05 is 5%
}

func (m ReturnMetrics) Add(o ReturnMetrics) ReturnMetrics {
	return ReturnMetrics{
		HoldReturnUSD:    m.HoldReturnUSD + o.HoldReturnUSD,
		NetReturnUSD:     m.NetReturnUSD + o.NetReturnUSD,
		UniswapReturnUSD: m.UniswapReturnUSD + o.UniswapReturnUSD,
		FeeUSD:           m.FeeUSD + o.FeeUSD,
		ImpLossUSD:       m.ImpLossUSD + o.ImpLossUSD,
		ImpLossPct:       m.ImpLossPct + o.ImpLossPct,
	}
}

// Decompose applies the constant product invariant to one window. Holding
// k = rune*asset of the starting amounts fixed yields the amounts the wallet
// would own at the end price with no fees; the difference to what it
// actually owns is fee income, and the difference between that no-fee value
// and simply holding is impermanent loss.
//
// The whole pool's invariant change is attributed to the wallet, which is
// exact only for a sole provider.
func Decompose(w ReturnWindow) ReturnMetrics {
	p0, p1 := w.Start, w.End

	t0Rune, t0Asset := p0.RuneAmount(), p0.AssetAmount()
	t1Rune, t1Asset := p1.RuneAmount(), p1.AssetAmount()

	t0Value := t0Rune*p0.USDPerRune + t0Asset*p0.USDPerAsset
	holdValue := t0Rune*p1.USDPerRune + t0Asset*p1.USDPerAsset

	m := ReturnMetrics{
		HoldReturnUSD: holdValue - t0Value,
		NetReturnUSD:  p1.NetValueUSD() - p0.NetValueUSD(),
	}

	k := t0Rune * t0Asset
	var priceRatio float64
	if p1.USDPerRune > 0 {
		priceRatio = p1.USDPerAsset / p1.USDPerRune
	}
	if k <= 0 || priceRatio <= 0 || !finite(priceRatio) {
		return m
	}

	runeNoFee := math.Sqrt(k * priceRatio)
	assetNoFee := math.Sqrt(k / priceRatio)
	noFeeValue := runeNoFee*p1.USDPerRune + assetNoFee*p1.USDPerAsset

	m.FeeUSD = (t1Rune-runeNoFee)*p1.USDPerRune + (t1Asset-assetNoFee)*p1.USDPerAsset
	m.ImpLossUSD = noFeeValue - holdValue
	m.UniswapReturnUSD = m.FeeUSD + m.ImpLossUSD

	if base := p0.USDPerRune*t1Rune + p0.USDPerAsset*t0Asset; base != 0 {
		m.ImpLossPct = m.ImpLossUSD / base
	}
	return m
}

// Sum decomposes and adds up every window.
func Sum(windows []ReturnWindow) ReturnMetrics {
	var total ReturnMetrics
	for _, w := range windows {
		total = total.Add(Decompose(w))
	}
	return total
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
