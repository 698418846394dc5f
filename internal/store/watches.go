package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Watch is an LP position (address, pool) a Telegram user follows.
type Watch struct {
	ID         int64     `json:"id"`
	TgUserID   int64     `json:"tg_user_id"`
	TgChatID   int64     `json:"tg_chat_id"`
	Address    string    `json:"address"`
	Pool       string    `json:"pool"`
	ILAlertPct float64   `json:"il_alert_pct"`
	CreatedAt  time.Time `json:"created_at"`
}

const watchColumns = `w.id, w.tg_user_id, u.tg_chat_id, w.address, w.pool, w.il_alert_pct, w.created_at`

func scanWatch(row pgx.CollectableRow) (Watch, error) {
	var w Watch
	err := row.Scan(&w.ID, &w.TgUserID, &w.TgChatID, &w.Address, &w.Pool, &w.ILAlertPct, &w.CreatedAt)
	return w, err
}

// ListWatches returns every watch of a linked user, oldest first.
func (s *Store) ListWatches(ctx context.Context) ([]Watch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+watchColumns+`
		FROM lp_watches w
		JOIN telegram_users u ON u.id = w.tg_user_id
		WHERE u.linked = true
		ORDER BY w.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanWatch)
}

func (s *Store) ListWatchesByChat(ctx context.Context, tgChatID int64) ([]Watch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+watchColumns+`
		FROM lp_watches w
		JOIN telegram_users u ON u.id = w.tg_user_id
		WHERE u.tg_chat_id = $1
		ORDER BY w.id`, tgChatID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanWatch)
}

// CreateWatch adds a watch for a linked chat. Watching the same position
// twice updates the alert threshold. Unlinked chats get ErrNotFound.
func (s *Store) CreateWatch(ctx context.Context, tgChatID int64, address, pool string, ilAlertPct float64) (*Watch, error) {
	rows, err := s.pool.Query(ctx, `
		WITH ins AS (
			INSERT INTO lp_watches (tg_user_id, address, pool, il_alert_pct)
			SELECT u.id, $2, $3, $4 FROM telegram_users u WHERE u.tg_chat_id = $1 AND u.linked = true
			ON CONFLICT (tg_user_id, address, pool) DO UPDATE SET il_alert_pct = EXCLUDED.il_alert_pct
			RETURNING *
		)
		SELECT `+watchColumns+`
		FROM ins w JOIN telegram_users u ON u.id = w.tg_user_id`,
		tgChatID, address, pool, ilAlertPct)
	if err != nil {
		return nil, err
	}
	w, err := pgx.CollectOneRow(rows, scanWatch)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// DeleteWatch removes a watch owned by the chat.
func (s *Store) DeleteWatch(ctx context.Context, tgChatID, watchID int64) error {
	return affected(s.pool.Exec(ctx, `
		DELETE FROM lp_watches
		WHERE id = $2 AND tg_user_id = (SELECT id FROM telegram_users WHERE tg_chat_id = $1)`,
		tgChatID, watchID))
}

func (s *Store) CountWatches(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lp_watches`).Scan(&count)
	return count, err
}

// --- Report history ---

// ReportHistory is one evaluation of a watch by the monitor.
type ReportHistory struct {
	WatchID    int64     `json:"watch_id"`
	ComputedAt time.Time `json:"computed_at"`
	CurrentUSD float64   `json:"current_usd"`
	ILUSD      float64   `json:"il_usd"`
	ILPct      float64   `json:"il_pct"`
	FeeUSD     float64   `json:"fee_usd"`
	APY        float64   `json:"apy"`
}

func (s *Store) InsertReportHistory(ctx context.Context, h ReportHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lp_report_history (watch_id, computed_at, current_usd, il_usd, il_pct, fee_usd, apy)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.WatchID, h.ComputedAt, h.CurrentUSD, h.ILUSD, h.ILPct, h.FeeUSD, h.APY)
	return err
}

// ListReportHistory returns the latest evaluations of a watch, newest first.
func (s *Store) ListReportHistory(ctx context.Context, watchID int64, limit int) ([]ReportHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT watch_id, computed_at, current_usd, il_usd, il_pct, fee_usd, apy
		FROM lp_report_history
		WHERE watch_id = $1
		ORDER BY computed_at DESC
		LIMIT $2`, watchID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReportHistory, error) {
		var h ReportHistory
		err := row.Scan(&h.WatchID, &h.ComputedAt, &h.CurrentUSD, &h.ILUSD, &h.ILPct, &h.FeeUSD, &h.APY)
		return h, err
	})
}

// CleanupReportHistory deletes evaluations older than maxAge.
func (s *Store) CleanupReportHistory(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM lp_report_history WHERE computed_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
