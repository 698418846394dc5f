package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"

	"github.com/web3-frozen/lp-monitor/internal/dedup"
	"github.com/web3-frozen/lp-monitor/internal/metrics"
	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

const dailyReportTTL = 48 * time.Hour

// AlertFunc sends a message to a Telegram chat.
type AlertFunc func(chatID int64, message string) error

// Reporter computes the yield report of one position.
type Reporter interface {
	GenerateReport(ctx context.Context, address, pool string) (*runeyield.Report, error)
}

// Store is the persistence the watch loop needs.
type Store interface {
	ListWatches(ctx context.Context) ([]store.Watch, error)
	InsertReportHistory(ctx context.Context, h store.ReportHistory) error
	GetSubscriberChatIDs(ctx context.Context, eventName string) ([]int64, error)
	LogNotification(ctx context.Context, n store.NotificationLog) error
	CleanupReportHistory(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Deduper remembers which alerts were already delivered.
type Deduper interface {
	AlreadySent(ctx context.Context, key string) bool
	Record(ctx context.Context, key string)
	RecordFor(ctx context.Context, key string, ttl time.Duration)
	Clear(ctx context.Context, key string)
	ClearByPattern(ctx context.Context, pattern string)
}

type Opts struct {
	Interval         time.Duration
	DailyCron        string
	Workers          int
	HistoryRetention time.Duration
}

// WatchStatus is the outcome of the latest evaluation of a watch.
type WatchStatus struct {
	WatchID    int64     `json:"watch_id"`
	Address    string    `json:"address"`
	Pool       string    `json:"pool"`
	CurrentUSD float64   `json:"current_usd"`
	ImpLossUSD float64   `json:"imp_loss_usd"`
	ImpLossPct float64   `json:"imp_loss_pct"`
	FeeUSD     float64   `json:"fee_usd"`
	APY        float64   `json:"apy"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Engine periodically re-evaluates every LP watch, raises impermanent loss
// alerts and sends the daily reports.
type Engine struct {
	store     Store
	reporter  Reporter
	dedup     Deduper
	alertFn   AlertFunc
	logger    *slog.Logger
	interval  time.Duration
	daily     cron.Schedule
	retention time.Duration
	workers   pond.Pool
	now       func() time.Time

	mu     sync.RWMutex
	status map[int64]WatchStatus
}

func NewEngine(s Store, r Reporter, dd Deduper, alertFn AlertFunc, o Opts, logger *slog.Logger) (*Engine, error) {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.HistoryRetention <= 0 {
		o.HistoryRetention = 90 * 24 * time.Hour
	}
	if o.DailyCron == "" {
		o.DailyCron = "0 0 * * *"
	}
	daily, err := cron.ParseStandard(o.DailyCron)
	if err != nil {
		return nil, fmt.Errorf("parse daily report schedule %q: %w", o.DailyCron, err)
	}
	return &Engine{
		store:     s,
		reporter:  r,
		dedup:     dd,
		alertFn:   alertFn,
		logger:    logger,
		interval:  o.Interval,
		daily:     daily,
		retention: o.HistoryRetention,
		workers:   pond.NewPool(o.Workers),
		now:       time.Now,
		status:    make(map[int64]WatchStatus),
	}, nil
}

// Interval is the period between two watch cycles.
func (e *Engine) Interval() time.Duration { return e.interval }

// Close waits for in-flight evaluations.
func (e *Engine) Close() { e.workers.StopAndWait() }

// Run evaluates all watches every interval and sends daily reports on the
// cron schedule (UTC) until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(e.daily, cron.FuncJob(func() {
		e.SendDailyReports(ctx)
		e.cleanupHistory(ctx)
	}))
	c.Start()
	defer c.Stop()
	e.logger.Info("watch engine started", "interval", e.interval, "next_daily_report", e.daily.Next(e.now().UTC()))

	e.RunCycle(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every watch once.
func (e *Engine) RunCycle(ctx context.Context) {
	watches, err := e.store.ListWatches(ctx)
	if err != nil {
		metrics.WatchRunTotal.WithLabelValues("error").Inc()
		e.logger.Error("list watches failed", "error", err)
		return
	}
	metrics.WatchesActive.Set(float64(len(watches)))

	group := e.workers.NewGroupContext(ctx)
	for _, w := range watches {
		group.Submit(func() { e.checkWatch(group.Context(), w) })
	}
	if err := group.Wait(); err != nil {
		e.logger.Warn("watch cycle interrupted", "error", err)
		return
	}
	metrics.WatchLastSuccess.SetToCurrentTime()
	e.logger.Info("watch cycle done", "watches", len(watches))
}

func (e *Engine) checkWatch(ctx context.Context, w store.Watch) {
	report, err := e.reporter.GenerateReport(ctx, w.Address, w.Pool)
	if err != nil {
		metrics.WatchRunTotal.WithLabelValues("error").Inc()
		e.setStatus(WatchStatus{WatchID: w.ID, Address: w.Address, Pool: w.Pool, Error: err.Error(), CheckedAt: e.now()})
		if runeyield.IsUpstream(err) {
			e.logger.Warn("watch report unavailable", "watch_id", w.ID, "error", err)
		} else {
			e.logger.Error("watch report failed", "watch_id", w.ID, "error", err)
		}
		return
	}
	metrics.WatchRunTotal.WithLabelValues("ok").Inc()

	st := statusOf(w, report, e.now())
	e.setStatus(st)
	metrics.WatchedPositionUSD.WithLabelValues(strconv.FormatInt(w.ID, 10), w.Pool).Set(st.CurrentUSD)

	if err := e.store.InsertReportHistory(ctx, store.ReportHistory{
		WatchID:    w.ID,
		ComputedAt: st.CheckedAt,
		CurrentUSD: st.CurrentUSD,
		ILUSD:      st.ImpLossUSD,
		ILPct:      st.ImpLossPct,
		FeeUSD:     st.FeeUSD,
		APY:        st.APY,
	}); err != nil {
		e.logger.Error("insert report history failed", "watch_id", w.ID, "error", err)
	}

	e.checkImpLoss(ctx, w, report)
}

// checkImpLoss alerts once when the loss passes the watch threshold and
// re-arms when it recovers.
func (e *Engine) checkImpLoss(ctx context.Context, w store.Watch, report *runeyield.Report) {
	if w.ILAlertPct <= 0 {
		return
	}
	key := dedup.ILAlertKey(w.ID)
	if report.Fees.ImpLossPercent >= -w.ILAlertPct {
		e.dedup.Clear(ctx, key)
		return
	}
	if e.dedup.AlreadySent(ctx, key) {
		metrics.AlertsDeduplicatedTotal.WithLabelValues("il").Inc()
		return
	}
	if err := e.send(ctx, w.TgChatID, &w.ID, store.EventILAlert, RenderILAlert(w, report)); err != nil {
		return
	}
	e.dedup.Record(ctx, key)
}

// SendDailyReports sends the rendered report of every watch whose owner
// subscribed to the daily report. Each watch gets at most one report per UTC day.
func (e *Engine) SendDailyReports(ctx context.Context) {
	chatIDs, err := e.store.GetSubscriberChatIDs(ctx, store.EventDailyReport)
	if err != nil {
		e.logger.Error("get subscribers failed", "event", store.EventDailyReport, "error", err)
		return
	}
	if len(chatIDs) == 0 {
		return
	}
	subscribed := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		subscribed[id] = true
	}

	watches, err := e.store.ListWatches(ctx)
	if err != nil {
		e.logger.Error("list watches failed", "error", err)
		return
	}

	today := e.now()
	group := e.workers.NewGroupContext(ctx)
	for _, w := range watches {
		if !subscribed[w.TgChatID] {
			continue
		}
		group.Submit(func() { e.sendDailyReport(group.Context(), w, today) })
	}
	if err := group.Wait(); err != nil {
		e.logger.Warn("daily reports interrupted", "error", err)
	}
}

func (e *Engine) cleanupHistory(ctx context.Context) {
	n, err := e.store.CleanupReportHistory(ctx, e.retention)
	if err != nil {
		e.logger.Error("cleanup report history failed", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("report history cleaned", "deleted", n)
	}
}

func (e *Engine) sendDailyReport(ctx context.Context, w store.Watch, day time.Time) {
	key := dedup.DailyReportKey(w.ID, day)
	if e.dedup.AlreadySent(ctx, key) {
		metrics.AlertsDeduplicatedTotal.WithLabelValues("daily").Inc()
		return
	}
	report, err := e.reporter.GenerateReport(ctx, w.Address, w.Pool)
	if err != nil {
		e.logger.Error("daily report failed", "watch_id", w.ID, "error", err)
		return
	}
	if err := e.send(ctx, w.TgChatID, &w.ID, store.EventDailyReport, RenderReport(report, runeyield.ModeUSD)); err != nil {
		return
	}
	e.dedup.RecordFor(ctx, key, dailyReportTTL)
}

func (e *Engine) send(ctx context.Context, chatID int64, watchID *int64, eventName, msg string) error {
	kind := alertKind(eventName)
	entry := store.NotificationLog{TgChatID: chatID, EventName: eventName, WatchID: watchID, Message: msg, Status: "sent"}

	err := e.alertFn(chatID, msg)
	if err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(kind).Inc()
		e.logger.Error("send alert failed", "chat_id", chatID, "event", eventName, "error", err)
		entry.Status, entry.Error = "failed", err.Error()
	} else {
		metrics.AlertsSentTotal.WithLabelValues(kind).Inc()
	}
	if lerr := e.store.LogNotification(ctx, entry); lerr != nil {
		e.logger.Warn("log notification failed", "chat_id", chatID, "error", lerr)
	}
	return err
}

// ForgetWatch drops the cached status, gauges and dedup keys of a deleted watch.
func (e *Engine) ForgetWatch(ctx context.Context, watchID int64) {
	e.mu.Lock()
	delete(e.status, watchID)
	e.mu.Unlock()
	metrics.WatchedPositionUSD.DeletePartialMatch(map[string]string{"watch_id": strconv.FormatInt(watchID, 10)})
	e.dedup.Clear(ctx, dedup.ILAlertKey(watchID))
	e.dedup.ClearByPattern(ctx, dedup.DailyReportPattern(watchID))
}

// Status returns the latest evaluation of a watch.
func (e *Engine) Status(watchID int64) (WatchStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.status[watchID]
	return st, ok
}

// Statuses returns the latest evaluation of every watch, ordered by id.
func (e *Engine) Statuses() []WatchStatus {
	e.mu.RLock()
	out := make([]WatchStatus, 0, len(e.status))
	for _, st := range e.status {
		out = append(out, st)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WatchID < out[j].WatchID })
	return out
}

func (e *Engine) setStatus(st WatchStatus) {
	e.mu.Lock()
	e.status[st.WatchID] = st
	e.mu.Unlock()
}

func statusOf(w store.Watch, r *runeyield.Report, at time.Time) WatchStatus {
	return WatchStatus{
		WatchID:    w.ID,
		Address:    w.Address,
		Pool:       w.Pool,
		CurrentUSD: r.CurrentValue(runeyield.ModeUSD),
		ImpLossUSD: r.Fees.ImpLossUSD,
		ImpLossPct: r.Fees.ImpLossPercent,
		FeeUSD:     r.Fees.FeeUSD,
		APY:        r.LPVsHoldAPY(),
		CheckedAt:  at,
	}
}

func alertKind(eventName string) string {
	switch eventName {
	case store.EventILAlert:
		return "il"
	case store.EventDailyReport:
		return "daily"
	}
	return "other"
}
