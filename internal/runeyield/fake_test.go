package runeyield

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

const (
	testPool   = "BTC.BTC"
	testStable = "ETH.USDC-0XA0B8"
	testAddr   = "thor1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain serves canned actions and pool states.
type fakeChain struct {
	mu      sync.Mutex
	txs     []thorchain.RawTx
	txErr   error
	states  map[HeightKey]thorchain.RawPoolState
	fail    map[HeightKey]error
	current map[string]thorchain.RawPoolState
	usd     float64
	height  int64
	fetches map[HeightKey]int
	txCalls int
	txGate  chan struct{}
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		states:  make(map[HeightKey]thorchain.RawPoolState),
		fail:    make(map[HeightKey]error),
		current: make(map[string]thorchain.RawPoolState),
		fetches: make(map[HeightKey]int),
		usd:     1,
		height:  10_000,
	}
}

// setPool registers a pool state at a height, in whole tokens.
func (f *fakeChain) setPool(pool string, height int64, runeDepth, assetDepth float64, units int64) {
	f.states[HeightKey{Pool: pool, Height: height}] = thorchain.RawPoolState{
		Asset: pool, Status: "available", RuneDepth: runeDepth, AssetDepth: assetDepth, PoolUnits: units,
	}
}

// setStable registers a 1:1 stable pool, pricing RUNE at usd dollars.
func (f *fakeChain) setStable(height int64, usd float64) {
	f.setPool(testStable, height, 1_000_000, 1_000_000*usd, 1)
}

func (f *fakeChain) setCurrent(pool string, runeDepth, assetDepth float64, units int64) {
	f.current[pool] = thorchain.RawPoolState{
		Asset: pool, Status: "available", RuneDepth: runeDepth, AssetDepth: assetDepth, PoolUnits: units,
	}
}

func (f *fakeChain) add(height int64, ts time.Time, runeIn, assetIn float64, units int64) {
	f.txs = append(f.txs, thorchain.RawTx{
		Hash: fmt.Sprintf("ADD%d", height), Height: height, Date: ts, Type: thorchain.TypeAddLiquidity,
		Status: "success", Pools: []string{testPool}, InRune: runeIn, InAsset: assetIn, LiquidityUnits: units,
	})
}

func (f *fakeChain) withdraw(height int64, ts time.Time, runeOut, assetOut float64, units int64) {
	f.txs = append(f.txs, thorchain.RawTx{
		Hash: fmt.Sprintf("WD%d", height), Height: height, Date: ts, Type: thorchain.TypeWithdraw,
		Status: "success", Pools: []string{testPool}, OutRune: runeOut, OutAsset: assetOut, LiquidityUnits: -units,
	})
}

func (f *fakeChain) fetchCount(pool string, height int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[HeightKey{Pool: pool, Height: height}]
}

func (f *fakeChain) transactionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls
}

func (f *fakeChain) GetTransactions(_ context.Context, _ string, pool string) ([]thorchain.RawTx, error) {
	f.mu.Lock()
	f.txCalls++
	gate := f.txGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.txErr != nil {
		return nil, f.txErr
	}
	var out []thorchain.RawTx
	for _, tx := range f.txs {
		if pool == "" || strings.EqualFold(tx.Pool(), pool) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeChain) GetPoolState(_ context.Context, pool string, height int64) (thorchain.RawPoolState, error) {
	key := HeightKey{Pool: pool, Height: height}
	f.mu.Lock()
	f.fetches[key]++
	f.mu.Unlock()
	if err, ok := f.fail[key]; ok {
		return thorchain.RawPoolState{}, err
	}
	st, ok := f.states[key]
	if !ok {
		return thorchain.RawPoolState{}, fmt.Errorf("pool %s: %w", pool, thorchain.ErrNotFound)
	}
	return st, nil
}

func (f *fakeChain) GetCurrentPoolState(_ context.Context, pool string) (thorchain.RawPoolState, error) {
	st, ok := f.current[strings.ToUpper(pool)]
	if !ok {
		return thorchain.RawPoolState{}, thorchain.ErrNotFound
	}
	return st, nil
}

func (f *fakeChain) GetCurrentUsdPerRune(context.Context) (float64, error) {
	return f.usd, nil
}

func (f *fakeChain) LastBlockHeight(context.Context) (int64, error) {
	return f.height, nil
}

func newTestEngine(chain *fakeChain, o Opts) *Engine {
	if len(o.StableCoins) == 0 {
		o.StableCoins = []string{testStable}
	}
	if o.Workers == 0 {
		o.Workers = 4
	}
	e := NewEngine(chain, o, discardLogger())
	e.now = func() time.Time { return testNow }
	return e
}
