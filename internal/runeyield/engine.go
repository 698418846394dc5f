package runeyield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/web3-frozen/lp-monitor/internal/metrics"
	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

// Chain is everything the engine needs from the chain and indexer client.
type Chain interface {
	TxSource
	PoolFetcher
	GetCurrentPoolState(ctx context.Context, pool string) (thorchain.RawPoolState, error)
	GetCurrentUsdPerRune(ctx context.Context) (float64, error)
	LastBlockHeight(ctx context.Context) (int64, error)
}

type Opts struct {
	StableCoins        []string
	Workers            int
	Timeout            time.Duration
	OutboundFeeRune    float64
	TrimClosedSessions bool
	Store              StateStore
}

// Engine produces liquidity reports. It keeps no state between reports
// other than the pool state cache.
type Engine struct {
	chain     Chain
	cache     *PoolStateCache
	prices    *PriceOracle
	ledger    *LedgerLoader
	assembler *Assembler
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	flight    singleflight.Group
}

func NewEngine(chain Chain, o Opts, logger *slog.Logger) *Engine {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	cache := NewPoolStateCache(chain, o.Store, o.Workers, logger)
	prices := NewPriceOracle(cache, o.StableCoins, logger)
	return &Engine{
		chain:     chain,
		cache:     cache,
		prices:    prices,
		ledger:    NewLedgerLoader(chain, o.TrimClosedSessions),
		assembler: NewAssembler(cache, prices, o.OutboundFeeRune, logger),
		timeout:   o.Timeout,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Engine) Close() {
	e.cache.Close()
}

// GenerateReport builds the report of one wallet in one pool. The whole
// computation shares one timeout; on expiry no report is returned.
// Concurrent requests for the same position share one computation, which
// is not cancelled when one of the callers goes away.
func (e *Engine) GenerateReport(ctx context.Context, address, pool string) (*Report, error) {
	if pool == "" {
		return nil, fmt.Errorf("pool is required")
	}
	key := address + "/" + strings.ToUpper(pool)
	ch := e.flight.DoChan(key, func() (any, error) {
		return e.build(context.WithoutCancel(ctx), address, pool)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Report), nil
	}
}

func (e *Engine) build(ctx context.Context, address, pool string) (*Report, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	report, err := e.generate(ctx, address, pool)
	if err != nil {
		metrics.ReportsGenerated.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ReportsGenerated.WithLabelValues("ok").Inc()
	metrics.ReportDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("lp report generated",
		"address", address,
		"pool", report.Pool,
		"events", report.Events,
		"windows", report.Windows,
		"duration", time.Since(start),
	)
	return report, nil
}

func (e *Engine) generate(ctx context.Context, address, pool string) (*Report, error) {
	events, err := e.ledger.Load(ctx, address, pool)
	if err != nil {
		return nil, err
	}
	live, err := e.liveState(ctx, pool)
	if err != nil {
		// a wallet without history reports zeros even when the pool is gone
		if len(events) > 0 || ctx.Err() != nil {
			return nil, err
		}
		e.logger.Debug("no live state for empty position", "address", address, "pool", pool, "error", err)
		live = LiveState{Pool: PoolState{Pool: strings.ToUpper(pool)}, Time: e.now()}
	}
	return e.assembler.Assemble(ctx, address, pool, events, live)
}

// liveState fetches the current pool, RUNE price and height in parallel.
func (e *Engine) liveState(ctx context.Context, pool string) (LiveState, error) {
	var (
		raw       thorchain.RawPoolState
		price     float64
		height    int64
		poolErr   error
		priceErr  error
		heightErr error
	)
	if err := ctx.Err(); err != nil {
		return LiveState{}, upstream("fetch live state", pool, 0, err)
	}
	group := e.cache.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	group.Submit(func() {
		raw, poolErr = e.chain.GetCurrentPoolState(groupCtx, pool)
	})
	group.Submit(func() {
		price, priceErr = e.chain.GetCurrentUsdPerRune(groupCtx)
	})
	group.Submit(func() {
		height, heightErr = e.chain.LastBlockHeight(groupCtx)
	})
	if err := group.Wait(); err != nil {
		return LiveState{}, upstream("fetch live state", pool, 0, err)
	}

	switch {
	case poolErr != nil:
		metrics.UpstreamFailures.WithLabelValues("current_pool").Inc()
		return LiveState{}, upstream("fetch current pool", pool, 0, poolErr)
	case priceErr != nil:
		metrics.UpstreamFailures.WithLabelValues("current_price").Inc()
		return LiveState{}, upstream("fetch current usd price", "", 0, priceErr)
	case heightErr != nil:
		metrics.UpstreamFailures.WithLabelValues("last_block").Inc()
		return LiveState{}, upstream("fetch last block", "", 0, heightErr)
	}

	state := poolStateFromRaw(height, raw)
	if state.Pool == "" {
		state.Pool = strings.ToUpper(pool)
	}
	return LiveState{Pool: state, USDPerRune: price, Height: height, Time: e.now()}, nil
}

// Summary groups the reports of every pool a wallet provided liquidity to.
type Summary struct {
	Address      string    `json:"address"`
	Reports      []*Report `json:"reports"`
	CurrentUSD   float64   `json:"current_usd"`
	AddedUSD     float64   `json:"added_usd"`
	WithdrawnUSD float64   `json:"withdrawn_usd"`
	FeeUSD       float64   `json:"fee_usd"`
	ImpLossUSD   float64   `json:"imp_loss_usd"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// GenerateSummary reports on the given pools, or on every pool in the
// wallet's history when none are given.
func (e *Engine) GenerateSummary(ctx context.Context, address string, pools []string) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	events, err := e.ledger.Load(ctx, address, "")
	if err != nil {
		return nil, err
	}
	byPool := ByPool(events)
	if len(pools) == 0 {
		pools = Pools(events)
	}

	sum := &Summary{Address: address, GeneratedAt: e.now()}
	for _, p := range pools {
		p = strings.ToUpper(p)
		live, err := e.liveState(ctx, p)
		if err != nil {
			return nil, err
		}
		r, err := e.assembler.Assemble(ctx, address, p, byPool[p], live)
		if err != nil {
			return nil, err
		}
		sum.Reports = append(sum.Reports, r)
		sum.CurrentUSD += r.CurrentValue(ModeUSD)
		sum.AddedUSD += r.AddedValue(ModeUSD)
		sum.WithdrawnUSD += r.WithdrawnValue(ModeUSD)
		sum.FeeUSD += r.Fees.FeeUSD
		sum.ImpLossUSD += r.Fees.ImpLossUSD
	}
	sort.SliceStable(sum.Reports, func(i, j int) bool {
		return sum.Reports[i].CurrentValue(ModeUSD) > sum.Reports[j].CurrentValue(ModeUSD)
	})
	return sum, nil
}

// IsUpstream reports whether err came from chain or indexer access.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
