package runeyield

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

type EventKind string

const (
	EventAdd      EventKind = "ADD"
	EventWithdraw EventKind = "WITHDRAW"
)

// LedgerEvent is one wallet transaction that changed its liquidity units.
// Withdrawals carry negative deltas.
type LedgerEvent struct {
	Height     int64     `json:"height"`
	Kind       EventKind `json:"kind"`
	Pool       string    `json:"pool"`
	TxID       string    `json:"tx_id"`
	RuneDelta  float64   `json:"rune_delta"`
	AssetDelta float64   `json:"asset_delta"`
	UnitsDelta int64     `json:"units_delta"`
	Timestamp  time.Time `json:"timestamp"`
}

// TxSource lists a wallet's raw liquidity actions.
type TxSource interface {
	GetTransactions(ctx context.Context, address, pool string) ([]thorchain.RawTx, error)
}

// LedgerLoader turns raw indexer actions into an ordered event ledger.
type LedgerLoader struct {
	src        TxSource
	trimClosed bool
}

// NewLedgerLoader creates a loader. With trimClosed set, history before the
// most recent full exit of each pool is dropped.
func NewLedgerLoader(src TxSource, trimClosed bool) *LedgerLoader {
	return &LedgerLoader{src: src, trimClosed: trimClosed}
}

// Load returns the wallet's add/withdraw events sorted by height. A wallet
// without liquidity history gets an empty ledger, not an error.
func (l *LedgerLoader) Load(ctx context.Context, address, pool string) ([]LedgerEvent, error) {
	txs, err := l.src.GetTransactions(ctx, address, pool)
	if err != nil {
		return nil, upstream("load transactions", pool, 0, err)
	}

	events := make([]LedgerEvent, 0, len(txs))
	for _, tx := range txs {
		ev, ok := eventFromTx(tx)
		if !ok {
			continue
		}
		if pool != "" && !strings.EqualFold(ev.Pool, pool) {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Height < events[j].Height })

	if l.trimClosed {
		events = trimClosedSessions(events)
	}
	return events, nil
}

func eventFromTx(tx thorchain.RawTx) (LedgerEvent, bool) {
	ev := LedgerEvent{
		Height:    tx.Height,
		Pool:      strings.ToUpper(tx.Pool()),
		TxID:      tx.Hash,
		Timestamp: tx.Date,
	}
	if ev.Pool == "" {
		return LedgerEvent{}, false
	}

	switch tx.Type {
	case thorchain.TypeAddLiquidity:
		ev.Kind = EventAdd
		ev.RuneDelta = tx.InRune
		ev.AssetDelta = tx.InAsset
		ev.UnitsDelta = absUnits(tx.LiquidityUnits)
	case thorchain.TypeWithdraw:
		ev.Kind = EventWithdraw
		ev.RuneDelta = -tx.OutRune
		ev.AssetDelta = -tx.OutAsset
		ev.UnitsDelta = -absUnits(tx.LiquidityUnits)
	default:
		return LedgerEvent{}, false
	}
	return ev, true
}

func absUnits(u int64) int64 {
	if u < 0 {
		return -u
	}
	return u
}

// trimClosedSessions keeps, per pool, only the events after the last time
// the wallet's units returned to zero.
func trimClosedSessions(events []LedgerEvent) []LedgerEvent {
	units := make(map[string]int64)
	cut := make(map[string]int)
	for i, e := range events {
		units[e.Pool] += e.UnitsDelta
		if units[e.Pool] <= 0 {
			cut[e.Pool] = i + 1
		}
	}
	if len(cut) == 0 {
		return events
	}
	kept := make([]LedgerEvent, 0, len(events))
	for i, e := range events {
		if i < cut[e.Pool] {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// Pools lists the distinct pools of a ledger in first-seen order.
func Pools(events []LedgerEvent) []string {
	seen := make(map[string]bool)
	var pools []string
	for _, e := range events {
		if !seen[e.Pool] {
			seen[e.Pool] = true
			pools = append(pools, e.Pool)
		}
	}
	return pools
}

// ValidAddress is a loose sanity check for wallet addresses typed by users.
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if len(addr) < 26 || len(addr) > 78 {
		return false
	}
	for _, c := range addr {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// ByPool splits a ledger per pool keeping order.
func ByPool(events []LedgerEvent) map[string][]LedgerEvent {
	out := make(map[string][]LedgerEvent)
	for _, e := range events {
		out[e.Pool] = append(out[e.Pool], e)
	}
	return out
}
