package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
)

var defaultStableCoins = []string{
	"ETH.USDC-0XA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48",
	"ETH.USDT-0XDAC17F958D2EE523A2206206994597C13D831EC7",
	"AVAX.USDC-0XB97EF9EF8734C71904D8002F8B6BC66DD9C48A6E",
	"BSC.USDT-0X55D398326F99059FF775485246999027B3197955",
	"BSC.USDC-0X8AC76A51CC950D9822D68B83FE1AD97B32CD580D",
}

type Config struct {
	Port           string
	DatabaseURL    string
	TelegramToken  string
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string

	ThornodeURLs []string
	MidgardURLs  []string
	StableCoins  []string

	FetchWorkers       int
	ReportTimeout      time.Duration
	OutboundFeeRune    float64
	TrimClosedSessions bool

	WatchInterval    time.Duration
	DailyReportCron  string
	ILAlertPct       float64
	HistoryRetention time.Duration
}

func Load() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       envOr("REDIS_URL", "redis://redis-master.redis.svc.cluster.local:6379/0"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),

		ThornodeURLs: envList("THORNODE_URLS", []string{
			"https://thornode.ninerealms.com",
			"https://thornode.thorchain.liquify.com",
		}),
		MidgardURLs: envList("MIDGARD_URLS", []string{
			"https://midgard.ninerealms.com",
			"https://midgard.thorchain.liquify.com",
		}),
		StableCoins: envList("STABLE_COINS", defaultStableCoins),

		FetchWorkers:       envInt("FETCH_WORKERS", 8),
		ReportTimeout:      envDuration("REPORT_TIMEOUT", 60*time.Second),
		OutboundFeeRune:    envFloat("OUTBOUND_FEE_RUNE", 0.02),
		TrimClosedSessions: envBool("TRIM_CLOSED_SESSIONS", false),

		WatchInterval:    envDuration("WATCH_INTERVAL", 10*time.Minute),
		DailyReportCron:  envOr("DAILY_REPORT_CRON", "0 0 * * *"), // 08:00 HKT
		ILAlertPct:       envFloat("IL_ALERT_PCT", 5),
		HistoryRetention: envDuration("HISTORY_RETENTION", 90*24*time.Hour),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"DATABASE_URL":       &cfg.DatabaseURL,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envList splits a comma separated value, dropping blanks.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
