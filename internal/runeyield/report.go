package runeyield

import (
	"math"
	"time"
)

// Mode selects the denomination of a report value.
type Mode string

const (
	ModeUSD   Mode = "usd"
	ModeRune  Mode = "rune"
	ModeAsset Mode = "asset"
)

// ParseMode falls back to USD for unknown input.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeRune, ModeAsset:
		return Mode(s)
	default:
		return ModeUSD
	}
}

// CurrentLiquidity is the wallet's principal flow in one pool, each event
// priced at its own height.
type CurrentLiquidity struct {
	Pool                  string    `json:"pool"`
	RuneAdded             float64   `json:"rune_added"`
	AssetAdded            float64   `json:"asset_added"`
	FirstRuneAdded        float64   `json:"first_rune_added"`
	FirstAssetAdded       float64   `json:"first_asset_added"`
	RuneWithdrawn         float64   `json:"rune_withdrawn"`
	AssetWithdrawn        float64   `json:"asset_withdrawn"`
	TotalAddedAsRune      float64   `json:"total_added_as_rune"`
	TotalAddedAsAsset     float64   `json:"total_added_as_asset"`
	TotalAddedAsUSD       float64   `json:"total_added_as_usd"`
	TotalWithdrawnAsRune  float64   `json:"total_withdrawn_as_rune"`
	TotalWithdrawnAsAsset float64   `json:"total_withdrawn_as_asset"`
	TotalWithdrawnAsUSD   float64   `json:"total_withdrawn_as_usd"`
	PoolUnits             int64     `json:"pool_units"`
	FirstEventAt          time.Time `json:"first_event_at"`
	LastEventAt           time.Time `json:"last_event_at"`
	Adds                  int       `json:"adds"`
	Withdrawals           int       `json:"withdrawals"`
}

// FeeReport is the aggregated return decomposition. FeeRune and FeeAsset
// are the same income expressed in either token, not parts of a sum.
type FeeReport struct {
	Pool           string  `json:"pool"`
	ImpLossUSD     float64 `json:"imp_loss_usd"`
	ImpLossPercent float64 `json:"imp_loss_percent"`
	FeeUSD         float64 `json:"fee_usd"`
	FeeRune        float64 `json:"fee_rune"`
	FeeAsset       float64 `json:"fee_asset"`
}

// Report is the liquidity position of one wallet in one pool.
type Report struct {
	Address string `json:"address"`
	Pool    string `json:"pool"`

	USDPerRune       float64 `json:"usd_per_rune"`
	USDPerAsset      float64 `json:"usd_per_asset"`
	USDPerRuneStart  float64 `json:"usd_per_rune_start"`
	USDPerAssetStart float64 `json:"usd_per_asset_start"`

	Liquidity CurrentLiquidity `json:"liquidity"`
	Fees      FeeReport        `json:"fees"`
	Metrics   ReturnMetrics    `json:"metrics"`
	PoolNow   PoolState        `json:"pool_now"`

	Events      int       `json:"events"`
	Windows     int       `json:"windows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RedeemableRuneAsset is what the wallet could withdraw now. Units are
// clamped to [0, pool units].
func (r *Report) RedeemableRuneAsset() (float64, float64) {
	units := r.Liquidity.PoolUnits
	if units > r.PoolNow.PoolUnits {
		units = r.PoolNow.PoolUnits
	}
	return r.PoolNow.Share(units)
}

func (r *Report) CurrentValue(mode Mode) float64 {
	rn, as := r.RedeemableRuneAsset()
	switch mode {
	case ModeRune:
		return rn + as*r.PoolNow.RunePerAsset()
	case ModeAsset:
		return as + rn*r.PoolNow.AssetPerRune()
	default:
		return rn*r.USDPerRune + as*r.USDPerAsset
	}
}

func (r *Report) AddedValue(mode Mode) float64 {
	switch mode {
	case ModeRune:
		return r.Liquidity.TotalAddedAsRune
	case ModeAsset:
		return r.Liquidity.TotalAddedAsAsset
	default:
		return r.Liquidity.TotalAddedAsUSD
	}
}

func (r *Report) WithdrawnValue(mode Mode) float64 {
	switch mode {
	case ModeRune:
		return r.Liquidity.TotalWithdrawnAsRune
	case ModeAsset:
		return r.Liquidity.TotalWithdrawnAsAsset
	default:
		return r.Liquidity.TotalWithdrawnAsUSD
	}
}

func (r *Report) FeeValue(mode Mode) float64 {
	switch mode {
	case ModeRune:
		return r.Fees.FeeRune
	case ModeAsset:
		return r.Fees.FeeAsset
	default:
		return r.Fees.FeeUSD
	}
}

// GainLoss is current + withdrawn - added, absolute and in percent of added.
func (r *Report) GainLoss(mode Mode) (float64, float64) {
	added := r.AddedValue(mode)
	if added == 0 {
		return 0, 0
	}
	abs := r.CurrentValue(mode) + r.WithdrawnValue(mode) - added
	return abs, abs / added * 100
}

// GainLossRaw compares token amounts without any price conversion.
func (r *Report) GainLossRaw() (runeAbs, runePct, assetAbs, assetPct float64) {
	rn, as := r.RedeemableRuneAsset()
	l := r.Liquidity
	runeAbs = l.RuneWithdrawn + rn - l.RuneAdded
	assetAbs = l.AssetWithdrawn + as - l.AssetAdded
	if l.RuneAdded != 0 {
		runePct = runeAbs / l.RuneAdded * 100
	}
	if l.AssetAdded != 0 {
		assetPct = assetAbs / l.AssetAdded * 100
	}
	return runeAbs, runePct, assetAbs, assetPct
}

// LPVsHold compares the position with having held the first deposit's
// tokens instead, that hold valued at current prices. The percentage is
// relative to the USD added, each deposit priced at its own height.
func (r *Report) LPVsHold() (float64, float64) {
	l := r.Liquidity
	if l.Adds == 0 {
		return 0, 0
	}
	hold := l.FirstRuneAdded*r.USDPerRune + l.FirstAssetAdded*r.USDPerAsset
	abs := r.CurrentValue(ModeUSD) + r.WithdrawnValue(ModeUSD) - hold
	added := r.AddedValue(ModeUSD)
	if added == 0 {
		return abs, 0
	}
	return abs, abs / added * 100
}

func (r *Report) LPVsHoldAPY() float64 {
	_, pct := r.LPVsHold()
	return ChangeRatioToAPY(pct/100, r.TotalDays())
}

// PriceChange is the percent move of RUNE or the asset since the first
// event. USD never moves against itself.
func (r *Report) PriceChange(mode Mode) float64 {
	switch mode {
	case ModeRune:
		return pctChange(r.USDPerRuneStart, r.USDPerRune)
	case ModeAsset:
		return pctChange(r.USDPerAssetStart, r.USDPerAsset)
	default:
		return 0
	}
}

// TotalDays is the time since the first event.
func (r *Report) TotalDays() float64 {
	if r.Liquidity.FirstEventAt.IsZero() {
		return 0
	}
	return r.GeneratedAt.Sub(r.Liquidity.FirstEventAt).Hours() / 24
}

// ChangeRatioToAPY annualizes a return ratio earned over days, compounding
// daily. Returns 0 when days is not positive or the result overflows.
func ChangeRatioToAPY(ratio, days float64) float64 {
	if days <= 0 {
		return 0
	}
	apy := 100 * (math.Pow(1+ratio/days, 365) - 1)
	if !finite(apy) {
		return 0
	}
	return apy
}

func pctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to/from - 1) * 100
}
