package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// NotificationLog records a message delivered (or attempted) to a chat.
type NotificationLog struct {
	ID        int64     `json:"id"`
	TgChatID  int64     `json:"tg_chat_id"`
	EventName string    `json:"event_name"`
	WatchID   *int64    `json:"watch_id,omitempty"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) LogNotification(ctx context.Context, n NotificationLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_logs (tg_chat_id, event_name, watch_id, message, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.TgChatID, n.EventName, n.WatchID, n.Message, n.Status, n.Error)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, tgChatID int64, limit int) ([]NotificationLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tg_chat_id, event_name, watch_id, message, status, error, created_at
		FROM notification_logs
		WHERE tg_chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tgChatID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (NotificationLog, error) {
		var n NotificationLog
		err := row.Scan(&n.ID, &n.TgChatID, &n.EventName, &n.WatchID, &n.Message, &n.Status, &n.Error, &n.CreatedAt)
		return n, err
	})
}
