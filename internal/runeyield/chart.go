package runeyield

import (
	"context"
	"fmt"
	"time"
)

// BlockTime is the nominal THORChain block interval used to map dates to
// heights.
const BlockTime = 6 * time.Second

// DailyPoint is the value of a position at the end of one day.
type DailyPoint struct {
	Time     time.Time `json:"time"`
	Height   int64     `json:"height"`
	Units    int64     `json:"units"`
	USDValue float64   `json:"usd_value"`
}

// EstimateHeight maps a past time to a height assuming constant block time.
func EstimateHeight(lastHeight int64, lastTime, t time.Time) int64 {
	back := int64(lastTime.Sub(t) / BlockTime)
	if back < 0 {
		back = 0
	}
	h := lastHeight - back
	if h < 1 {
		h = 1
	}
	return h
}

// unitsAt is the wallet's unit count after every event up to t.
func unitsAt(events []LedgerEvent, t time.Time) int64 {
	var units int64
	for _, e := range events {
		if e.Timestamp.After(t) {
			break
		}
		units += e.UnitsDelta
	}
	return units
}

// DailyValues returns the USD value of the position for each of the last
// days, oldest first. Today uses live state. Days on which the pool did not
// exist have value 0.
func (e *Engine) DailyValues(ctx context.Context, address, pool string, days int) ([]DailyPoint, error) {
	if pool == "" {
		return nil, fmt.Errorf("pool is required")
	}
	if days <= 0 {
		days = 14
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	events, err := e.ledger.Load(ctx, address, pool)
	if err != nil {
		return nil, err
	}
	live, err := e.liveState(ctx, pool)
	if err != nil {
		return nil, err
	}

	points := make([]DailyPoint, days)
	var keys []HeightKey
	for d := 0; d < days; d++ {
		t := live.Time.Add(-time.Duration(d) * 24 * time.Hour)
		p := DailyPoint{Time: t, Height: live.Height, Units: unitsAt(events, t)}
		if d > 0 {
			p.Height = EstimateHeight(live.Height, live.Time, t)
			keys = append(keys, HeightKey{Pool: live.Pool.Pool, Height: p.Height})
			keys = append(keys, e.prices.Keys(p.Height)...)
		}
		points[days-1-d] = p
	}
	if err := e.cache.Prefetch(ctx, keys); err != nil {
		return nil, err
	}

	for i := range points {
		p := &points[i]
		if p.Units <= 0 {
			continue
		}
		if i == days-1 {
			p.USDValue = positionUSD(live.Pool, p.Units, live.USDPerRune)
			continue
		}
		st, ok, err := e.cache.Lookup(ctx, live.Pool.Pool, p.Height)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		price, err := e.prices.PriceAt(ctx, p.Height)
		if err != nil {
			return nil, err
		}
		p.USDValue = positionUSD(st, p.Units, price)
	}
	return points, nil
}

func positionUSD(st PoolState, units int64, usdPerRune float64) float64 {
	rn, as := st.Share(units)
	return (rn + as*st.RunePerAsset()) * usdPerRune
}
