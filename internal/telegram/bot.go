package telegram

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/web3-frozen/lp-monitor/internal/monitor"
	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

const telegramAPI = "https://api.telegram.org/bot"

// Store is what the bot reads and writes.
type Store interface {
	UpsertTelegramUser(ctx context.Context, chatID int64, username, linkCode string, expiresAt time.Time) error
	GetTelegramUser(ctx context.Context, chatID int64) (*store.TelegramUser, error)
	ListSubscriptions(ctx context.Context, tgChatID int64) ([]store.Subscription, error)
	ListWatchesByChat(ctx context.Context, tgChatID int64) ([]store.Watch, error)
	CreateWatch(ctx context.Context, tgChatID int64, address, pool string, ilAlertPct float64) (*store.Watch, error)
	DeleteWatch(ctx context.Context, tgChatID, watchID int64) error
}

// Reporter computes the reports behind /lp.
type Reporter interface {
	GenerateReport(ctx context.Context, address, pool string) (*runeyield.Report, error)
	GenerateSummary(ctx context.Context, address string, pools []string) (*runeyield.Summary, error)
}

type Bot struct {
	token        string
	api          string
	store        Store
	reporter     Reporter
	forget       func(ctx context.Context, watchID int64)
	defaultILPct float64
	logger       *slog.Logger
	client       *http.Client
	offset       int64
}

func NewBot(token string, s Store, reporter Reporter, defaultILPct float64, logger *slog.Logger) *Bot {
	return &Bot{
		token:        token,
		api:          telegramAPI,
		store:        s,
		reporter:     reporter,
		defaultILPct: defaultILPct,
		logger:       logger,
		client:       &http.Client{Timeout: 40 * time.Second},
	}
}

// OnUnwatch registers a hook run after a watch is deleted.
func (b *Bot) OnUnwatch(fn func(ctx context.Context, watchID int64)) {
	b.forget = fn
}

// SendMessage sends a text message to a Telegram chat.
func (b *Bot) SendMessage(chatID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, _ := json.Marshal(payload)

	resp, err := b.client.Post(
		b.api+b.token+"/sendMessage",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// Run starts the long-polling loop for incoming Telegram messages.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	url := fmt.Sprintf("%s%s/getUpdates?offset=%d&timeout=30", b.api, b.token, b.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.logger.Error("create poll request", "error", err)
		return
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		time.Sleep(5 * time.Second)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result []struct {
			UpdateID int64 `json:"update_id"`
			Message  *struct {
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
				From struct {
					Username string `json:"username"`
				} `json:"from"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		b.logger.Error("decode updates", "error", err)
		return
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		if u.Message == nil {
			continue
		}
		b.handle(ctx, u.Message.Chat.ID, u.Message.From.Username, u.Message.Text)
	}
}

func (b *Bot) handle(ctx context.Context, chatID int64, username, text string) {
	args := strings.Fields(text)
	if len(args) == 0 {
		return
	}
	// "/lp@lp_monitor_bot" in group chats
	cmd, _, _ := strings.Cut(args[0], "@")
	args = args[1:]

	switch cmd {
	case "/start":
		b.handleStart(ctx, chatID, username)
	case "/help":
		b.handleHelp(chatID)
	case "/status":
		b.handleStatus(ctx, chatID)
	case "/lp":
		b.handleLP(ctx, chatID, args)
	case "/watch":
		b.handleWatch(ctx, chatID, args)
	case "/unwatch":
		b.handleUnwatch(ctx, chatID, args)
	case "/watches":
		b.handleWatches(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Send /help for available commands.")
	}
}

func (b *Bot) reply(chatID int64, msg string) {
	if err := b.SendMessage(chatID, msg); err != nil {
		b.logger.Error("send reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64, username string) {
	code := generateLinkCode()
	expiresAt := time.Now().Add(10 * time.Minute)

	if err := b.store.UpsertTelegramUser(ctx, chatID, username, code, expiresAt); err != nil {
		b.logger.Error("upsert telegram user", "error", err)
		b.reply(chatID, "❌ Error generating link code. Please try again.")
		return
	}

	msg := fmt.Sprintf("👋 Welcome to LP Monitor!\n\n"+
		"Your link code: <code>%s</code>\n\n"+
		"Enter this code on the dashboard to link your Telegram account, then use /watch to follow a THORChain LP position.\n\n"+
		"⏰ This code expires in 10 minutes.", code)
	b.reply(chatID, msg)
}

func (b *Bot) handleHelp(chatID int64) {
	msg := "🤖 <b>LP Monitor Bot</b>\n\n" +
		"Commands:\n" +
		"/lp &lt;address&gt; [pool] [usd|rune|asset] — Yield, fees and impermanent loss of a position\n" +
		"/watch &lt;address&gt; &lt;pool&gt; [il %] — Alert me when impermanent loss passes a threshold\n" +
		"/unwatch &lt;id&gt; — Stop watching a position\n" +
		"/watches — List watched positions\n" +
		"/start — Get a link code to connect your Telegram\n" +
		"/status — Check your link and subscription status\n" +
		"/help — Show this message"
	b.reply(chatID, msg)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	user, err := b.store.GetTelegramUser(ctx, chatID)
	if err != nil {
		b.reply(chatID, "You haven't linked your account yet. Send /start to get a link code.")
		return
	}

	if !user.Linked {
		b.reply(chatID, "Your account is registered but not linked yet. Send /start to get a new link code.")
		return
	}

	subs, err := b.store.ListSubscriptions(ctx, chatID)
	if err != nil {
		b.reply(chatID, "Error fetching subscriptions.")
		return
	}
	watches, err := b.store.ListWatchesByChat(ctx, chatID)
	if err != nil {
		b.reply(chatID, "Error fetching watches.")
		return
	}

	msg := fmt.Sprintf("✅ Account linked! (@%s)\n\n👀 Watched positions: %d\n", html.EscapeString(user.TgUsername), len(watches))
	if len(subs) == 0 {
		msg += "\nYou have no active subscriptions. Visit the dashboard to subscribe to daily reports."
	} else {
		msg += "\n📋 Active subscriptions:\n"
		for _, sub := range subs {
			msg += fmt.Sprintf("• %s\n", sub.EventName)
		}
	}
	b.reply(chatID, msg)
}

func (b *Bot) handleLP(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 || !runeyield.ValidAddress(args[0]) {
		b.reply(chatID, "Usage: /lp &lt;address&gt; [pool] [usd|rune|asset]")
		return
	}
	address := args[0]
	mode := runeyield.ModeUSD
	var pool string
	for _, a := range args[1:] {
		if m := runeyield.ParseMode(a); strings.EqualFold(a, string(m)) {
			mode = m
			continue
		}
		pool = strings.ToUpper(a)
	}

	if pool == "" {
		sum, err := b.reporter.GenerateSummary(ctx, address, nil)
		if err != nil {
			b.replyReportError(chatID, address, err)
			return
		}
		b.reply(chatID, monitor.RenderSummary(sum))
		return
	}

	report, err := b.reporter.GenerateReport(ctx, address, pool)
	if err != nil {
		b.replyReportError(chatID, address, err)
		return
	}
	b.reply(chatID, monitor.RenderReport(report, mode))
}

func (b *Bot) replyReportError(chatID int64, address string, err error) {
	if runeyield.IsUpstream(err) {
		b.logger.Warn("lp report unavailable", "address", address, "error", err)
		b.reply(chatID, "⏳ Chain data is not ready yet. Please try again in a few minutes.")
		return
	}
	b.logger.Error("lp report failed", "address", address, "error", err)
	b.reply(chatID, "❌ Could not compute the report.")
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 || !runeyield.ValidAddress(args[0]) || !strings.Contains(args[1], ".") {
		b.reply(chatID, "Usage: /watch &lt;address&gt; &lt;pool&gt; [il %]\nExample: /watch thor1... BTC.BTC 5")
		return
	}
	pct := b.defaultILPct
	if len(args) > 2 {
		v, err := strconv.ParseFloat(strings.TrimSuffix(args[2], "%"), 64)
		if err != nil || v < 0 {
			b.reply(chatID, "The IL threshold must be a positive percentage, e.g. 5.")
			return
		}
		pct = v
	}

	w, err := b.store.CreateWatch(ctx, chatID, args[0], strings.ToUpper(args[1]), pct)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(chatID, "Link your account first: send /start and enter the code on the dashboard.")
		return
	}
	if err != nil {
		b.logger.Error("create watch", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error saving the watch. Please try again.")
		return
	}
	b.reply(chatID, fmt.Sprintf("👀 Watch #%d: %s in %s, alert at %.1f%% impermanent loss.",
		w.ID, html.EscapeString(w.Address), html.EscapeString(w.Pool), w.ILAlertPct))
}

func (b *Bot) handleUnwatch(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Usage: /unwatch &lt;id&gt; (see /watches)")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /unwatch &lt;id&gt; (see /watches)")
		return
	}
	err = b.store.DeleteWatch(ctx, chatID, id)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("No watch #%d.", id))
		return
	}
	if err != nil {
		b.logger.Error("delete watch", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error removing the watch.")
		return
	}
	if b.forget != nil {
		b.forget(ctx, id)
	}
	b.reply(chatID, fmt.Sprintf("🗑 Watch #%d removed.", id))
}

func (b *Bot) handleWatches(ctx context.Context, chatID int64) {
	watches, err := b.store.ListWatchesByChat(ctx, chatID)
	if err != nil {
		b.reply(chatID, "Error fetching watches.")
		return
	}
	if len(watches) == 0 {
		b.reply(chatID, "You are not watching any position. Use /watch &lt;address&gt; &lt;pool&gt;.")
		return
	}
	var sb strings.Builder
	sb.WriteString("👀 <b>Watched positions</b>\n\n")
	for _, w := range watches {
		fmt.Fprintf(&sb, "#%d %s\n<code>%s</code> (IL alert %.1f%%)\n", w.ID, html.EscapeString(w.Pool), html.EscapeString(w.Address), w.ILAlertPct)
	}
	b.reply(chatID, sb.String())
}

func generateLinkCode() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return strings.ToUpper(hex.EncodeToString(b))
}
