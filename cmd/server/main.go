package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/web3-frozen/lp-monitor/internal/config"
	"github.com/web3-frozen/lp-monitor/internal/dedup"
	"github.com/web3-frozen/lp-monitor/internal/handler"
	"github.com/web3-frozen/lp-monitor/internal/metrics"
	"github.com/web3-frozen/lp-monitor/internal/middleware"
	"github.com/web3-frozen/lp-monitor/internal/monitor"
	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
	"github.com/web3-frozen/lp-monitor/internal/telegram"
	"github.com/web3-frozen/lp-monitor/internal/thorchain"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.TelegramToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Redis dedup (retry up to 30s for ExternalSecret to sync)
	var dd *dedup.Deduplicator
	for i := 0; i < 6; i++ {
		dd, err = dedup.New(cfg.RedisURL, cfg.RedisPassword)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer dd.Close()
	logger.Info("redis connected for alert dedup and pool state cache")

	// Chain access and yield engine
	chain := thorchain.New(thorchain.Opts{
		ThornodeURLs: cfg.ThornodeURLs,
		MidgardURLs:  cfg.MidgardURLs,
		StableCoins:  cfg.StableCoins,
	})
	yield := runeyield.NewEngine(chain, runeyield.Opts{
		StableCoins:        cfg.StableCoins,
		Workers:            cfg.FetchWorkers,
		Timeout:            cfg.ReportTimeout,
		OutboundFeeRune:    cfg.OutboundFeeRune,
		TrimClosedSessions: cfg.TrimClosedSessions,
		Store:              runeyield.NewRedisStateStore(dd.Client()),
	}, logger)
	defer yield.Close()

	bot := telegram.NewBot(cfg.TelegramToken, db, yield, cfg.ILAlertPct, logger)

	engine, err := monitor.NewEngine(db, yield, dd, bot.SendMessage, monitor.Opts{
		Interval:         cfg.WatchInterval,
		DailyCron:        cfg.DailyReportCron,
		HistoryRetention: cfg.HistoryRetention,
	}, logger)
	if err != nil {
		logger.Error("failed to create watch engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	bot.OnUnwatch(engine.ForgetWatch)

	go refreshBusinessMetrics(ctx, db, logger)

	// Start background goroutines
	go bot.Run(ctx)
	go engine.Run(ctx)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(map[string]handler.Check{
		"postgres": db.Ping,
		"redis":    func(ctx context.Context) error { return dd.Client().Ping(ctx).Err() },
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", handler.ListEvents(db))
		r.Post("/link", handler.LinkTelegram(db))
		r.Post("/unlink", handler.UnlinkTelegram(db))
		r.Get("/link/status", handler.LinkStatus(db))
		r.Get("/subscriptions", handler.ListSubscriptions(db))
		r.Post("/subscriptions", handler.Subscribe(db))
		r.Delete("/subscriptions/{id}", handler.Unsubscribe(db))
		r.Get("/notifications", handler.ListNotifications(db))

		r.Get("/lp/{address}", handler.LPReport(yield))
		r.Get("/lp/{address}/chart", handler.LPChart(yield))

		r.Get("/watches", handler.ListWatches(db))
		r.Post("/watches", handler.CreateWatch(db, cfg.ILAlertPct))
		r.Delete("/watches/{id}", handler.DeleteWatch(db, engine))
		r.Get("/watches/{id}/history", handler.WatchHistory(db))

		r.Get("/stats", handler.Stats(engine))
		r.Get("/stats/meta", handler.StatsMetadata(engine))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ReportTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// refreshBusinessMetrics keeps the user and subscription gauges current.
func refreshBusinessMetrics(ctx context.Context, db *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		if n, err := db.CountLinkedUsers(ctx); err == nil {
			metrics.TelegramLinkedUsers.Set(float64(n))
		} else if ctx.Err() == nil {
			logger.Warn("count linked users failed", "error", err)
		}
		if n, err := db.CountSubscriptions(ctx, store.EventDailyReport); err == nil {
			metrics.SubscriptionsActive.WithLabelValues(store.EventDailyReport).Set(float64(n))
		}
		if n, err := db.CountWatches(ctx); err == nil {
			metrics.WatchesActive.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
