package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

const testAddress = "thor1qpwyqvdxe8dxy5d2xhk3l2rw9xu5c5xznqf2wj"

type fakeStore struct {
	linked  map[int64]bool
	watches []store.Watch
	codes   map[int64]string
}

func (f *fakeStore) UpsertTelegramUser(_ context.Context, chatID int64, _, code string, _ time.Time) error {
	f.codes[chatID] = code
	return nil
}

func (f *fakeStore) GetTelegramUser(_ context.Context, chatID int64) (*store.TelegramUser, error) {
	linked, ok := f.linked[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.TelegramUser{TgChatID: chatID, TgUsername: "lp_fan", Linked: linked}, nil
}

func (f *fakeStore) ListSubscriptions(context.Context, int64) ([]store.Subscription, error) {
	return []store.Subscription{{EventName: store.EventDailyReport}}, nil
}

func (f *fakeStore) ListWatchesByChat(_ context.Context, chatID int64) ([]store.Watch, error) {
	var out []store.Watch
	for _, w := range f.watches {
		if w.TgChatID == chatID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateWatch(_ context.Context, chatID int64, address, pool string, pct float64) (*store.Watch, error) {
	if !f.linked[chatID] {
		return nil, store.ErrNotFound
	}
	w := store.Watch{ID: int64(len(f.watches) + 1), TgChatID: chatID, Address: address, Pool: pool, ILAlertPct: pct}
	f.watches = append(f.watches, w)
	return &w, nil
}

func (f *fakeStore) DeleteWatch(_ context.Context, chatID, id int64) error {
	for i, w := range f.watches {
		if w.ID == id && w.TgChatID == chatID {
			f.watches = append(f.watches[:i], f.watches[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeReporter struct {
	err     error
	gotPool string
}

func (f *fakeReporter) GenerateReport(_ context.Context, address, pool string) (*runeyield.Report, error) {
	f.gotPool = pool
	if f.err != nil {
		return nil, f.err
	}
	return &runeyield.Report{
		Address:     address,
		Pool:        pool,
		USDPerRune:  1,
		USDPerAsset: 10,
		Liquidity:   runeyield.CurrentLiquidity{RuneAdded: 100, AssetAdded: 10, TotalAddedAsUSD: 180, PoolUnits: 110},
		PoolNow:     runeyield.PoolState{RuneDepth: 1000, AssetDepth: 100, PoolUnits: 1000},
		Events:      1,
	}, nil
}

func (f *fakeReporter) GenerateSummary(_ context.Context, address string, _ []string) (*runeyield.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &runeyield.Summary{Address: address}, nil
}

// telegramServer records every sendMessage call.
type telegramServer struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (s *telegramServer) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	text, _ := s.sent[len(s.sent)-1]["text"].(string)
	return text
}

func newTestBot(t *testing.T) (*Bot, *fakeStore, *fakeReporter, *telegramServer) {
	t.Helper()
	ts := &telegramServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			ts.mu.Lock()
			ts.sent = append(ts.sent, payload)
			ts.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":41,"message":{"chat":{"id":7},"from":{"username":"lp_fan"},"text":"/help"}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	s := &fakeStore{linked: map[int64]bool{7: true, 8: false}, codes: map[int64]string{}}
	rep := &fakeReporter{}
	b := NewBot("TOKEN", s, rep, 5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.api = srv.URL + "/bot"
	return b, s, rep, ts
}

func TestStartSendsLinkCode(t *testing.T) {
	b, s, _, ts := newTestBot(t)
	b.handle(context.Background(), 7, "lp_fan", "/start")

	code := s.codes[7]
	require.Len(t, code, 6)
	assert.Contains(t, ts.last(t), code)
}

func TestLPCommand(t *testing.T) {
	b, _, rep, ts := newTestBot(t)
	ctx := context.Background()

	b.handle(ctx, 7, "", "/lp@lp_monitor_bot "+testAddress+" btc.btc rune")
	assert.Equal(t, "BTC.BTC", rep.gotPool)
	assert.Contains(t, ts.last(t), "BTC.BTC LP report</b> (RUNE)")

	b.handle(ctx, 7, "", "/lp "+testAddress)
	assert.Contains(t, ts.last(t), "No liquidity activity found.")

	b.handle(ctx, 7, "", "/lp nope")
	assert.Contains(t, ts.last(t), "Usage: /lp")
}

func TestLPCommandUpstreamDown(t *testing.T) {
	b, _, rep, ts := newTestBot(t)
	rep.err = &runeyield.UpstreamError{Op: "get pool state", Pool: "BTC.BTC", Height: 10, Err: errors.New("pruned")}

	b.handle(context.Background(), 7, "", "/lp "+testAddress+" BTC.BTC")
	assert.Contains(t, ts.last(t), "not ready yet")

	rep.err = errors.New("boom")
	b.handle(context.Background(), 7, "", "/lp "+testAddress+" BTC.BTC")
	assert.Contains(t, ts.last(t), "Could not compute")
}

func TestWatchLifecycle(t *testing.T) {
	b, s, _, ts := newTestBot(t)
	var forgotten []int64
	b.OnUnwatch(func(_ context.Context, id int64) { forgotten = append(forgotten, id) })
	ctx := context.Background()

	b.handle(ctx, 8, "", "/watch "+testAddress+" BTC.BTC")
	assert.Contains(t, ts.last(t), "Link your account first")

	b.handle(ctx, 7, "", "/watch "+testAddress+" btc.btc 7.5%")
	require.Len(t, s.watches, 1)
	assert.Equal(t, "BTC.BTC", s.watches[0].Pool)
	assert.Equal(t, 7.5, s.watches[0].ILAlertPct)
	assert.Contains(t, ts.last(t), "Watch #1")

	b.handle(ctx, 7, "", "/watch "+testAddress+" ETH.ETH")
	assert.Equal(t, 5.0, s.watches[1].ILAlertPct)

	b.handle(ctx, 7, "", "/watches")
	assert.Contains(t, ts.last(t), "#2 ETH.ETH")

	b.handle(ctx, 7, "", "/unwatch #1")
	assert.Contains(t, ts.last(t), "Watch #1 removed")
	assert.Equal(t, []int64{1}, forgotten)

	b.handle(ctx, 7, "", "/unwatch 42")
	assert.Contains(t, ts.last(t), "No watch #42")
}

func TestWatchUsage(t *testing.T) {
	b, _, _, ts := newTestBot(t)
	for _, text := range []string{"/watch", "/watch " + testAddress, "/watch " + testAddress + " BTC"} {
		b.handle(context.Background(), 7, "", text)
		assert.Contains(t, ts.last(t), "Usage: /watch", text)
	}
	b.handle(context.Background(), 7, "", "/watch "+testAddress+" BTC.BTC lots")
	assert.Contains(t, ts.last(t), "positive percentage")
}

func TestStatusAndUnknown(t *testing.T) {
	b, _, _, ts := newTestBot(t)
	ctx := context.Background()

	b.handle(ctx, 99, "", "/status")
	assert.Contains(t, ts.last(t), "haven't linked")

	b.handle(ctx, 8, "", "/status")
	assert.Contains(t, ts.last(t), "not linked yet")

	b.handle(ctx, 7, "", "/status")
	assert.Contains(t, ts.last(t), "Watched positions: 0")
	assert.Contains(t, ts.last(t), store.EventDailyReport)

	b.handle(ctx, 7, "", "hello")
	assert.Contains(t, ts.last(t), "Unknown command")
}

func TestPollAdvancesOffset(t *testing.T) {
	b, _, _, ts := newTestBot(t)
	b.poll(context.Background())

	assert.Equal(t, int64(42), b.offset)
	assert.Contains(t, ts.last(t), "LP Monitor Bot")
}
