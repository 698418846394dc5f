package thorchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	poolPath      = "/thorchain/pool/"
	poolsPath     = "/thorchain/pools"
	lastBlockPath = "/thorchain/lastblock"

	// RuneAsset is the native asset symbol on THORChain.
	RuneAsset = "THOR.RUNE"
)

// RawPoolState is a pool as reported by THORNode, with depths converted from
// 1e8 base units.
type RawPoolState struct {
	Asset      string
	Status     string
	Decimals   int
	RuneDepth  float64
	AssetDepth float64
	PoolUnits  int64
	LPUnits    int64
}

type thornodePool struct {
	Asset        string `json:"asset"`
	Status       string `json:"status"`
	Decimals     int    `json:"decimals"`
	BalanceRune  string `json:"balance_rune"`
	BalanceAsset string `json:"balance_asset"`
	PoolUnits    string `json:"pool_units"`
	LPUnits      string `json:"LP_units"`
}

func (p thornodePool) toRaw() (RawPoolState, error) {
	runeDepth, err := baseUnitsToFloat(p.BalanceRune)
	if err != nil {
		return RawPoolState{}, fmt.Errorf("pool %s balance_rune: %w", p.Asset, err)
	}
	asset, err := baseUnitsToFloat(p.BalanceAsset)
	if err != nil {
		return RawPoolState{}, fmt.Errorf("pool %s balance_asset: %w", p.Asset, err)
	}
	units, err := parseUnits(p.PoolUnits)
	if err != nil {
		return RawPoolState{}, fmt.Errorf("pool %s pool_units: %w", p.Asset, err)
	}
	lpUnits, err := parseUnits(p.LPUnits)
	if err != nil {
		return RawPoolState{}, fmt.Errorf("pool %s LP_units: %w", p.Asset, err)
	}
	return RawPoolState{
		Asset:      p.Asset,
		Status:     strings.ToLower(p.Status),
		Decimals:   p.Decimals,
		RuneDepth:  runeDepth,
		AssetDepth: asset,
		PoolUnits:  units,
		LPUnits:    lpUnits,
	}, nil
}

// GetPoolState returns the pool at the given height. Height 0 means the
// current chain head.
func (c *Client) GetPoolState(ctx context.Context, pool string, height int64) (RawPoolState, error) {
	var p thornodePool
	if err := c.getJSON(ctx, c.thornode, poolPath+url.PathEscape(pool)+heightQuery(height), &p); err != nil {
		return RawPoolState{}, fmt.Errorf("fetch pool %s at %d: %w", pool, height, err)
	}
	return p.toRaw()
}

// GetCurrentPoolState returns the pool at the chain head.
func (c *Client) GetCurrentPoolState(ctx context.Context, pool string) (RawPoolState, error) {
	return c.GetPoolState(ctx, pool, 0)
}

// GetPools returns every pool at the given height (0 = head).
func (c *Client) GetPools(ctx context.Context, height int64) ([]RawPoolState, error) {
	var pools []thornodePool
	if err := c.getJSON(ctx, c.thornode, poolsPath+heightQuery(height), &pools); err != nil {
		return nil, fmt.Errorf("fetch pools at %d: %w", height, err)
	}
	out := make([]RawPoolState, 0, len(pools))
	for _, p := range pools {
		raw, err := p.toRaw()
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// GetCurrentUsdPerRune prices RUNE from the configured stable coin pools at
// the chain head.
func (c *Client) GetCurrentUsdPerRune(ctx context.Context) (float64, error) {
	pools, err := c.GetPools(ctx, 0)
	if err != nil {
		return 0, err
	}
	price := StableRunePrice(pools, c.stableCoins)
	if price <= 0 {
		return 0, fmt.Errorf("no stable coin pools among %d pools", len(pools))
	}
	return price, nil
}

// LastBlockHeight returns the latest THORChain height.
func (c *Client) LastBlockHeight(ctx context.Context) (int64, error) {
	var blocks []struct {
		Thorchain json.Number `json:"thorchain"`
	}
	if err := c.getJSON(ctx, c.thornode, lastBlockPath, &blocks); err != nil {
		return 0, fmt.Errorf("fetch last block: %w", err)
	}
	if len(blocks) == 0 {
		return 0, fmt.Errorf("empty last block response")
	}
	return blocks[0].Thorchain.Int64()
}

// StableRunePrice is the rune-depth weighted mean of asset-per-rune across the
// given stable coin pools. Returns 0 when none is usable.
func StableRunePrice(pools []RawPoolState, stableCoins []string) float64 {
	stable := make(map[string]bool, len(stableCoins))
	for _, s := range stableCoins {
		stable[strings.ToUpper(s)] = true
	}
	var sum, weights float64
	for _, p := range pools {
		if !stable[strings.ToUpper(p.Asset)] || p.RuneDepth <= 0 || p.AssetDepth <= 0 {
			continue
		}
		price := p.AssetDepth / p.RuneDepth
		sum += price * p.RuneDepth
		weights += p.RuneDepth
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func heightQuery(height int64) string {
	if height <= 0 {
		return ""
	}
	return "?height=" + strconv.FormatInt(height, 10)
}

// baseUnitsToFloat converts a 1e8 fixed point integer string.
func baseUnitsToFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Shift(-8).Float64()
	return f, nil
}

func parseUnits(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}
