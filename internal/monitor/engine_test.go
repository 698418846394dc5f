package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/lp-monitor/internal/dedup"
	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	watches     []store.Watch
	subscribers map[string][]int64
	history     []store.ReportHistory
	logs        []store.NotificationLog
	listErr     error
	cleanedAge  time.Duration
}

func (f *fakeStore) ListWatches(context.Context) ([]store.Watch, error) {
	return f.watches, f.listErr
}

func (f *fakeStore) InsertReportHistory(_ context.Context, h store.ReportHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, h)
	return nil
}

func (f *fakeStore) GetSubscriberChatIDs(_ context.Context, eventName string) ([]int64, error) {
	return f.subscribers[eventName], nil
}

func (f *fakeStore) LogNotification(_ context.Context, n store.NotificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, n)
	return nil
}

func (f *fakeStore) CleanupReportHistory(_ context.Context, maxAge time.Duration) (int64, error) {
	f.cleanedAge = maxAge
	return 3, nil
}

type fakeReporter struct {
	mu      sync.Mutex
	reports map[string]*runeyield.Report
	calls   int
}

func (f *fakeReporter) GenerateReport(_ context.Context, address, pool string) (*runeyield.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, ok := f.reports[address+"/"+pool]
	if !ok {
		return nil, &runeyield.UpstreamError{Op: "load transactions", Pool: pool, Err: errors.New("midgard down")}
	}
	return r, nil
}

type sentMessage struct {
	chatID int64
	text   string
}

type outbox struct {
	mu   sync.Mutex
	msgs []sentMessage
	fail bool
}

func (o *outbox) send(chatID int64, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("telegram API error 403: bot was blocked by the user")
	}
	o.msgs = append(o.msgs, sentMessage{chatID, text})
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

type harness struct {
	engine   *Engine
	store    *fakeStore
	reporter *fakeReporter
	outbox   *outbox
	redis    *miniredis.Miniredis
}

func newHarness(t *testing.T, watches ...store.Watch) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	dd, err := dedup.New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dd.Close() })

	h := &harness{
		store:    &fakeStore{watches: watches, subscribers: map[string][]int64{}},
		reporter: &fakeReporter{reports: map[string]*runeyield.Report{}},
		outbox:   &outbox{},
		redis:    mr,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine, err = NewEngine(h.store, h.reporter, dd, h.outbox.send, Opts{Interval: time.Minute, Workers: 2}, logger)
	require.NoError(t, err)
	h.engine.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 5, 0, time.UTC) }
	t.Cleanup(h.engine.Close)
	return h
}

func reportWithIL(pct float64) *runeyield.Report {
	r := sampleReport()
	r.Fees.ImpLossPercent = pct
	return r
}

func watchOf(id, chatID int64, threshold float64) store.Watch {
	r := sampleReport()
	return store.Watch{ID: id, TgChatID: chatID, Address: r.Address, Pool: r.Pool, ILAlertPct: threshold}
}

func TestNewEngineRejectsBadCron(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, nil, Opts{DailyCron: "every day"}, slog.Default())
	assert.Error(t, err)
}

func TestRunCycleRecordsHistoryAndStatus(t *testing.T) {
	w := watchOf(1, 100, 5)
	h := newHarness(t, w)
	h.reporter.reports[w.Address+"/"+w.Pool] = reportWithIL(-1)

	h.engine.RunCycle(context.Background())

	require.Len(t, h.store.history, 1)
	assert.Equal(t, int64(1), h.store.history[0].WatchID)
	assert.InDelta(t, 220, h.store.history[0].CurrentUSD, 1e-9)
	assert.InDelta(t, -1, h.store.history[0].ILPct, 1e-9)

	st, ok := h.engine.Status(1)
	require.True(t, ok)
	assert.Empty(t, st.Error)
	assert.InDelta(t, 5, st.FeeUSD, 1e-9)
	assert.Zero(t, h.outbox.count(), "loss within threshold must not alert")
}

func TestILAlertSentOnceAndRearmed(t *testing.T) {
	w := watchOf(7, 100, 5)
	h := newHarness(t, w)
	key := w.Address + "/" + w.Pool
	ctx := context.Background()

	h.reporter.reports[key] = reportWithIL(-6.25)
	h.engine.RunCycle(ctx)
	require.Equal(t, 1, h.outbox.count())
	assert.Equal(t, int64(100), h.outbox.msgs[0].chatID)
	assert.Contains(t, h.outbox.msgs[0].text, "IMPERMANENT LOSS ALERT")
	assert.True(t, h.redis.Exists(dedup.ILAlertKey(7)))

	h.engine.RunCycle(ctx)
	assert.Equal(t, 1, h.outbox.count(), "alert repeated while still past threshold")

	h.reporter.reports[key] = reportWithIL(-2)
	h.engine.RunCycle(ctx)
	assert.False(t, h.redis.Exists(dedup.ILAlertKey(7)), "recovery should re-arm the alert")

	h.reporter.reports[key] = reportWithIL(-8)
	h.engine.RunCycle(ctx)
	assert.Equal(t, 2, h.outbox.count())

	require.Len(t, h.store.logs, 2)
	assert.Equal(t, store.EventILAlert, h.store.logs[0].EventName)
	assert.Equal(t, "sent", h.store.logs[0].Status)
}

func TestILAlertDisabledThreshold(t *testing.T) {
	w := watchOf(3, 100, 0)
	h := newHarness(t, w)
	h.reporter.reports[w.Address+"/"+w.Pool] = reportWithIL(-40)

	h.engine.RunCycle(context.Background())
	assert.Zero(t, h.outbox.count())
}

func TestFailedAlertIsRetried(t *testing.T) {
	w := watchOf(9, 100, 5)
	h := newHarness(t, w)
	h.reporter.reports[w.Address+"/"+w.Pool] = reportWithIL(-10)
	h.outbox.fail = true
	ctx := context.Background()

	h.engine.RunCycle(ctx)
	assert.False(t, h.redis.Exists(dedup.ILAlertKey(9)))
	require.Len(t, h.store.logs, 1)
	assert.Equal(t, "failed", h.store.logs[0].Status)
	assert.Contains(t, h.store.logs[0].Error, "blocked")

	h.outbox.fail = false
	h.engine.RunCycle(ctx)
	assert.Equal(t, 1, h.outbox.count())
}

func TestUpstreamFailureKeepsCycleGoing(t *testing.T) {
	broken := watchOf(1, 100, 5)
	broken.Pool = "ETH.ETH"
	ok := watchOf(2, 100, 5)
	h := newHarness(t, broken, ok)
	h.reporter.reports[ok.Address+"/"+ok.Pool] = reportWithIL(-1)

	h.engine.RunCycle(context.Background())

	st, found := h.engine.Status(1)
	require.True(t, found)
	assert.Contains(t, st.Error, "midgard down")
	assert.Len(t, h.store.history, 1)

	statuses := h.engine.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, int64(1), statuses[0].WatchID)
	assert.Equal(t, int64(2), statuses[1].WatchID)
}

func TestRunCycleListError(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = errors.New("connection refused")
	h.engine.RunCycle(context.Background())
	assert.Zero(t, h.reporter.calls)
	assert.Empty(t, h.engine.Statuses())
}

func TestSendDailyReports(t *testing.T) {
	subscribed := watchOf(1, 100, 5)
	other := watchOf(2, 200, 5)
	h := newHarness(t, subscribed, other)
	h.reporter.reports[subscribed.Address+"/"+subscribed.Pool] = reportWithIL(-1)
	h.store.subscribers[store.EventDailyReport] = []int64{100}
	ctx := context.Background()

	h.engine.SendDailyReports(ctx)
	require.Equal(t, 1, h.outbox.count())
	assert.Equal(t, int64(100), h.outbox.msgs[0].chatID)
	assert.True(t, strings.Contains(h.outbox.msgs[0].text, "LP report"))

	dayKey := dedup.DailyReportKey(1, h.engine.now())
	assert.True(t, h.redis.Exists(dayKey))
	assert.Greater(t, h.redis.TTL(dayKey), time.Duration(0))

	h.engine.SendDailyReports(ctx)
	assert.Equal(t, 1, h.outbox.count(), "second run on the same day must be deduplicated")
}

func TestForgetWatchClearsKeys(t *testing.T) {
	w := watchOf(4, 100, 5)
	h := newHarness(t, w)
	h.reporter.reports[w.Address+"/"+w.Pool] = reportWithIL(-9)
	h.store.subscribers[store.EventDailyReport] = []int64{100}
	ctx := context.Background()

	h.engine.RunCycle(ctx)
	h.engine.SendDailyReports(ctx)
	require.True(t, h.redis.Exists(dedup.ILAlertKey(4)))

	h.engine.ForgetWatch(ctx, 4)
	assert.False(t, h.redis.Exists(dedup.ILAlertKey(4)))
	assert.False(t, h.redis.Exists(dedup.DailyReportKey(4, h.engine.now())))
	_, ok := h.engine.Status(4)
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCleanupHistoryUsesRetention(t *testing.T) {
	h := newHarness(t)
	h.engine.cleanupHistory(context.Background())
	assert.Equal(t, 90*24*time.Hour, h.store.cleanedAge)
}
