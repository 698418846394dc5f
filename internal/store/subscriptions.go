package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// EventDailyReport is the subscribable daily report. IL alerts are not an
// event: every watch carries its own threshold, and EventILAlert only names
// them in the notification log.
const (
	EventDailyReport = "lp_daily_report"
	EventILAlert     = "lp_il_alert"
)

// Event is a notification kind users can subscribe to.
type Event struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, category, enabled, created_at
		FROM events WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var e Event
		err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Category, &e.Enabled, &e.CreatedAt)
		return e, err
	})
}

type Subscription struct {
	ID        int64     `json:"id"`
	TgUserID  int64     `json:"tg_user_id"`
	EventID   int       `json:"event_id"`
	EventName string    `json:"event_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) ListSubscriptions(ctx context.Context, tgChatID int64) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.tg_user_id, s.event_id, e.name, s.created_at
		FROM subscriptions s
		JOIN telegram_users u ON u.id = s.tg_user_id
		JOIN events e ON e.id = s.event_id
		WHERE u.tg_chat_id = $1
		ORDER BY s.id`, tgChatID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		var sub Subscription
		err := row.Scan(&sub.ID, &sub.TgUserID, &sub.EventID, &sub.EventName, &sub.CreatedAt)
		return sub, err
	})
}

// Subscribe is idempotent: subscribing twice to an event returns the
// existing row.
func (s *Store) Subscribe(ctx context.Context, tgChatID int64, eventID int) (*Subscription, error) {
	var sub Subscription
	err := s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO subscriptions (tg_user_id, event_id)
			SELECT u.id, $2 FROM telegram_users u WHERE u.tg_chat_id = $1 AND u.linked = true
			ON CONFLICT (tg_user_id, event_id) DO UPDATE SET event_id = EXCLUDED.event_id
			RETURNING id, tg_user_id, event_id, created_at
		)
		SELECT ins.id, ins.tg_user_id, ins.event_id, e.name, ins.created_at
		FROM ins JOIN events e ON e.id = ins.event_id`,
		tgChatID, eventID).
		Scan(&sub.ID, &sub.TgUserID, &sub.EventID, &sub.EventName, &sub.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// Unsubscribe deletes a subscription owned by the chat. Someone else's
// subscription is reported as ErrNotFound.
func (s *Store) Unsubscribe(ctx context.Context, tgChatID, subID int64) error {
	return affected(s.pool.Exec(ctx, `
		DELETE FROM subscriptions
		WHERE id = $2 AND tg_user_id = (SELECT id FROM telegram_users WHERE tg_chat_id = $1)`,
		tgChatID, subID))
}

// GetSubscriberChatIDs lists the linked chats subscribed to an event.
func (s *Store) GetSubscriberChatIDs(ctx context.Context, eventName string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.tg_chat_id
		FROM subscriptions s
		JOIN telegram_users u ON u.id = s.tg_user_id
		JOIN events e ON e.id = s.event_id
		WHERE e.name = $1 AND u.linked = true`, eventName)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// CountSubscriptions returns the number of active subscriptions for an event.
func (s *Store) CountSubscriptions(ctx context.Context, eventName string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM subscriptions s
		JOIN events e ON e.id = s.event_id
		WHERE e.name = $1`, eventName).Scan(&count)
	return count, err
}
