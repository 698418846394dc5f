package runeyield

import (
	"context"
	"log/slog"
	"time"
)

// LiveState is the "now" anchor of a report.
type LiveState struct {
	Pool       PoolState
	USDPerRune float64
	Height     int64
	Time       time.Time
}

// Assembler turns a ledger and the live pool state into a Report.
type Assembler struct {
	cache           *PoolStateCache
	prices          *PriceOracle
	outboundFeeRune float64
	logger          *slog.Logger
}

func NewAssembler(cache *PoolStateCache, prices *PriceOracle, outboundFeeRune float64, logger *slog.Logger) *Assembler {
	return &Assembler{cache: cache, prices: prices, outboundFeeRune: outboundFeeRune, logger: logger}
}

type heightState struct {
	pool       PoolState
	usdPerRune float64
}

// Assemble fetches the pool and price state of every event height, folds the
// ledger, decomposes the windows and returns the report. Only upstream
// failures are errors; numeric edge cases degrade to zero values.
func (a *Assembler) Assemble(ctx context.Context, address, pool string, events []LedgerEvent, live LiveState) (*Report, error) {
	report := &Report{
		Address:     address,
		Pool:        live.Pool.Pool,
		USDPerRune:  live.USDPerRune,
		USDPerAsset: live.USDPerRune * live.Pool.RunePerAsset(),
		PoolNow:     live.Pool,
		Events:      len(events),
		GeneratedAt: live.Time,
	}
	if report.Pool == "" {
		report.Pool = pool
	}
	report.Liquidity.Pool = report.Pool
	report.Fees.Pool = report.Pool
	if len(events) == 0 {
		return report, nil
	}

	states, err := a.loadHeights(ctx, events)
	if err != nil {
		return nil, err
	}

	report.Liquidity = a.foldLedger(report.Pool, events, states)

	first := states[events[0].Height]
	report.USDPerRuneStart = first.usdPerRune
	report.USDPerAssetStart = first.usdPerRune * first.pool.RunePerAsset()

	windows, err := SequenceWindows(events,
		func(height, units int64) (Position, error) {
			hs := states[height]
			return BuildPosition(hs.pool, units, hs.usdPerRune), nil
		},
		func(units int64) Position {
			p := BuildPosition(live.Pool, units, live.USDPerRune)
			p.Height = live.Height
			return p
		})
	if err != nil {
		return nil, err
	}
	report.Windows = len(windows)

	var total ReturnMetrics
	for _, w := range windows {
		if w.Start.USDPerRune <= 0 || w.End.USDPerRune <= 0 {
			a.logger.Warn("skipping window without usd price",
				"address", address, "pool", report.Pool, "start", w.Start.Height, "end", w.End.Height)
			continue
		}
		total = total.Add(Decompose(w))
	}
	report.Metrics = total
	report.Fees = a.feeReport(address, report, total)
	return report, nil
}

// loadHeights prefetches every required (pool, height) and the stable pools
// at the same heights, then resolves them. A target pool missing at an
// event height aborts the report.
func (a *Assembler) loadHeights(ctx context.Context, events []LedgerEvent) (map[int64]heightState, error) {
	var keys []HeightKey
	for _, e := range events {
		keys = append(keys, HeightKey{Pool: e.Pool, Height: e.Height})
		keys = append(keys, a.prices.Keys(e.Height)...)
	}
	if err := a.cache.Prefetch(ctx, keys); err != nil {
		return nil, err
	}

	states := make(map[int64]heightState, len(events))
	for _, e := range events {
		if _, ok := states[e.Height]; ok {
			continue
		}
		st, err := a.cache.Get(ctx, e.Pool, e.Height)
		if err != nil {
			return nil, err
		}
		price, err := a.prices.PriceAt(ctx, e.Height)
		if err != nil {
			return nil, err
		}
		states[e.Height] = heightState{pool: st, usdPerRune: price}
	}
	return states, nil
}

func (a *Assembler) foldLedger(pool string, events []LedgerEvent, states map[int64]heightState) CurrentLiquidity {
	liq := CurrentLiquidity{Pool: pool}
	halfFee := a.outboundFeeRune / 2

	for _, e := range events {
		hs := states[e.Height]
		runePerAsset, assetPerRune := hs.pool.RunePerAsset(), hs.pool.AssetPerRune()

		if liq.FirstEventAt.IsZero() || e.Timestamp.Before(liq.FirstEventAt) {
			liq.FirstEventAt = e.Timestamp
		}
		if e.Timestamp.After(liq.LastEventAt) {
			liq.LastEventAt = e.Timestamp
		}

		switch e.Kind {
		case EventAdd:
			runes, assets := e.RuneDelta, e.AssetDelta
			asRune := runes + runePerAsset*assets
			if liq.Adds == 0 {
				liq.FirstRuneAdded, liq.FirstAssetAdded = runes, assets
			}
			liq.Adds++
			liq.RuneAdded += runes
			liq.AssetAdded += assets
			liq.TotalAddedAsRune += asRune
			liq.TotalAddedAsUSD += asRune * hs.usdPerRune
			liq.TotalAddedAsAsset += assets + assetPerRune*runes
		case EventWithdraw:
			// the outbound fee was paid out of the withdrawn amounts
			runes := -e.RuneDelta + halfFee
			assets := -e.AssetDelta + halfFee*assetPerRune
			asRune := runes + runePerAsset*assets
			liq.Withdrawals++
			liq.RuneWithdrawn += runes
			liq.AssetWithdrawn += assets
			liq.TotalWithdrawnAsRune += asRune
			liq.TotalWithdrawnAsUSD += asRune * hs.usdPerRune
			liq.TotalWithdrawnAsAsset += assets + assetPerRune*runes
		}
	}
	liq.PoolUnits = FinalUnits(events)
	return liq
}

func (a *Assembler) feeReport(address string, r *Report, m ReturnMetrics) FeeReport {
	fees := FeeReport{
		Pool:           r.Pool,
		ImpLossUSD:     m.ImpLossUSD,
		ImpLossPercent: m.ImpLossPct * 100,
		FeeUSD:         m.FeeUSD,
	}
	if fees.FeeUSD < 0 {
		// the shortfall is counted as impermanent loss, the percentage keeps its base
		a.logger.Warn("negative fee clamped", "address", address, "pool", r.Pool, "fee_usd", fees.FeeUSD)
		fees.ImpLossUSD += fees.FeeUSD
		if m.ImpLossUSD != 0 {
			fees.ImpLossPercent *= fees.ImpLossUSD / m.ImpLossUSD
		}
		fees.FeeUSD = 0
	}
	if r.USDPerRune > 0 {
		fees.FeeRune = fees.FeeUSD / r.USDPerRune
	}
	if r.USDPerAsset > 0 {
		fees.FeeAsset = fees.FeeUSD / r.USDPerAsset
	}
	return fees
}
