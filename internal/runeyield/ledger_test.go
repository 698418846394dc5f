package runeyield

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

func TestLedgerLoadEmpty(t *testing.T) {
	chain := newFakeChain()
	events, err := NewLedgerLoader(chain, false).Load(context.Background(), testAddr, testPool)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLedgerLoadMapsAndOrders(t *testing.T) {
	chain := newFakeChain()
	chain.withdraw(300, testNow, 5, 2, 40)
	chain.add(100, testNow.Add(-48*time.Hour), 10, 4, 100)
	chain.txs = append(chain.txs,
		thorchain.RawTx{Height: 200, Type: "swap", Pools: []string{testPool}},
		thorchain.RawTx{Height: 150, Type: thorchain.TypeAddLiquidity, Pools: []string{"ETH.ETH"}, LiquidityUnits: 9},
	)

	events, err := NewLedgerLoader(chain, false).Load(context.Background(), testAddr, "btc.btc")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, LedgerEvent{
		Height: 100, Kind: EventAdd, Pool: testPool, TxID: "ADD100",
		RuneDelta: 10, AssetDelta: 4, UnitsDelta: 100, Timestamp: testNow.Add(-48 * time.Hour),
	}, events[0])
	assert.Equal(t, EventWithdraw, events[1].Kind)
	assert.Equal(t, -5.0, events[1].RuneDelta)
	assert.Equal(t, -2.0, events[1].AssetDelta)
	assert.Equal(t, int64(-40), events[1].UnitsDelta)
}

func TestLedgerLoadWrapsUpstreamError(t *testing.T) {
	chain := newFakeChain()
	chain.txErr = errors.New("midgard down")

	_, err := NewLedgerLoader(chain, false).Load(context.Background(), testAddr, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestLedgerTrimClosedSessions(t *testing.T) {
	chain := newFakeChain()
	chain.add(10, testNow, 1, 1, 100)
	chain.withdraw(20, testNow, 1, 1, 100)
	chain.add(30, testNow, 1, 1, 60)
	chain.withdraw(40, testNow, 1, 1, 10)

	all, err := NewLedgerLoader(chain, false).Load(context.Background(), testAddr, testPool)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	trimmed, err := NewLedgerLoader(chain, true).Load(context.Background(), testAddr, testPool)
	require.NoError(t, err)
	require.Len(t, trimmed, 2)
	assert.Equal(t, int64(30), trimmed[0].Height)
	assert.Equal(t, int64(50), FinalUnits(trimmed))
}

func TestPoolsAndByPool(t *testing.T) {
	events := []LedgerEvent{
		{Height: 1, Pool: "ETH.ETH"},
		{Height: 2, Pool: "BTC.BTC"},
		{Height: 3, Pool: "ETH.ETH"},
	}
	assert.Equal(t, []string{"ETH.ETH", "BTC.BTC"}, Pools(events))
	assert.Len(t, ByPool(events)["ETH.ETH"], 2)
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{testAddr, true},
		{"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", true},
		{"thor1short", false},
		{"thor1qqqqqqqqqqqqqqqqqqqq;qqqqqqqqqqqqqqqqqq", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAddress(tt.addr), tt.addr)
	}
}
