package thorchain

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const actionsPath = "/v2/actions"

// Midgard action types that change a liquidity position.
const (
	TypeAddLiquidity = "addLiquidity"
	TypeWithdraw     = "withdraw"
)

// RawTx is one Midgard action normalized at the client boundary.
type RawTx struct {
	Hash           string
	Height         int64
	Date           time.Time
	Type           string
	Status         string
	Pools          []string
	Address        string
	InRune         float64
	InAsset        float64
	OutRune        float64
	OutAsset       float64
	LiquidityUnits int64
}

// Pool returns the first pool the action touched.
func (t RawTx) Pool() string {
	if len(t.Pools) == 0 {
		return ""
	}
	return t.Pools[0]
}

type midgardCoin struct {
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type midgardTransfer struct {
	Address string        `json:"address"`
	Coins   []midgardCoin `json:"coins"`
	TxID    string        `json:"txID"`
}

type midgardAction struct {
	Date     string            `json:"date"`
	Height   string            `json:"height"`
	In       []midgardTransfer `json:"in"`
	Out      []midgardTransfer `json:"out"`
	Pools    []string          `json:"pools"`
	Status   string            `json:"status"`
	Type     string            `json:"type"`
	Metadata struct {
		AddLiquidity *struct {
			LiquidityUnits string `json:"liquidityUnits"`
		} `json:"addLiquidity"`
		Withdraw *struct {
			LiquidityUnits string `json:"liquidityUnits"`
			BasisPoints    string `json:"basisPoints"`
		} `json:"withdraw"`
	} `json:"metadata"`
}

type actionsResponse struct {
	Actions []midgardAction `json:"actions"`
	Count   string          `json:"count"`
}

func (a midgardAction) toRaw() (RawTx, error) {
	height, err := strconv.ParseInt(a.Height, 10, 64)
	if err != nil {
		return RawTx{}, fmt.Errorf("action height %q: %w", a.Height, err)
	}
	tx := RawTx{
		Height: height,
		Type:   a.Type,
		Status: a.Status,
		Pools:  a.Pools,
	}
	if ns, err := strconv.ParseInt(a.Date, 10, 64); err == nil {
		tx.Date = time.Unix(0, ns).UTC()
	}
	pool := tx.Pool()

	for _, in := range a.In {
		if tx.Hash == "" {
			tx.Hash = in.TxID
		}
		if tx.Address == "" {
			tx.Address = in.Address
		}
		r, as, err := sumCoins(in.Coins, pool)
		if err != nil {
			return RawTx{}, err
		}
		tx.InRune += r
		tx.InAsset += as
	}
	for _, out := range a.Out {
		r, as, err := sumCoins(out.Coins, pool)
		if err != nil {
			return RawTx{}, err
		}
		tx.OutRune += r
		tx.OutAsset += as
	}

	var units string
	switch {
	case a.Metadata.AddLiquidity != nil:
		units = a.Metadata.AddLiquidity.LiquidityUnits
	case a.Metadata.Withdraw != nil:
		units = a.Metadata.Withdraw.LiquidityUnits
	}
	if tx.LiquidityUnits, err = parseUnits(units); err != nil {
		return RawTx{}, fmt.Errorf("action %s units: %w", tx.Hash, err)
	}
	return tx, nil
}

func sumCoins(coins []midgardCoin, pool string) (runeAmt, assetAmt float64, err error) {
	for _, c := range coins {
		v, err := baseUnitsToFloat(c.Amount)
		if err != nil {
			return 0, 0, fmt.Errorf("coin %s amount: %w", c.Asset, err)
		}
		switch {
		case strings.EqualFold(c.Asset, RuneAsset):
			runeAmt += v
		case strings.EqualFold(c.Asset, pool):
			assetAmt += v
		}
	}
	return runeAmt, assetAmt, nil
}

// Actions returns a single page of Midgard actions for the address.
func (c *Client) Actions(ctx context.Context, address, txType string, offset, limit int) ([]RawTx, error) {
	q := url.Values{}
	q.Set("address", address)
	if txType != "" {
		q.Set("type", txType)
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var resp actionsResponse
	if err := c.getJSON(ctx, c.midgard, actionsPath+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch actions of %s: %w", address, err)
	}
	txs := make([]RawTx, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		tx, err := a.toRaw()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetTransactions pages through every successful add/withdraw action of the
// address, optionally limited to one pool, sorted by height.
func (c *Client) GetTransactions(ctx context.Context, address, pool string) ([]RawTx, error) {
	var all []RawTx
	for page := 0; page < c.maxPages; page++ {
		txs, err := c.Actions(ctx, address, TypeAddLiquidity+","+TypeWithdraw, page*c.pageSize, c.pageSize)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			if tx.Status != "" && tx.Status != "success" {
				continue
			}
			if pool != "" && !strings.EqualFold(tx.Pool(), pool) {
				continue
			}
			all = append(all, tx)
		}
		if len(txs) < c.pageSize {
			break
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Height < all[j].Height })
	return all, nil
}
