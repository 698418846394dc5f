package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// TelegramUser is a chat that talked to the bot. Only linked users own
// watches and receive notifications.
type TelegramUser struct {
	ID                int64     `json:"id"`
	TgChatID          int64     `json:"tg_chat_id"`
	TgUsername        string    `json:"tg_username"`
	LinkCode          string    `json:"link_code,omitempty"`
	LinkCodeExpiresAt time.Time `json:"link_code_expires_at,omitempty"`
	Linked            bool      `json:"linked"`
	CreatedAt         time.Time `json:"created_at"`
}

const userColumns = `id, tg_chat_id, tg_username, linked, created_at`

func scanUser(row pgx.CollectableRow) (*TelegramUser, error) {
	var u TelegramUser
	err := row.Scan(&u.ID, &u.TgChatID, &u.TgUsername, &u.Linked, &u.CreatedAt)
	return &u, err
}

// UpsertTelegramUser registers a chat and replaces its pending link code.
func (s *Store) UpsertTelegramUser(ctx context.Context, chatID int64, username, linkCode string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telegram_users (tg_chat_id, tg_username, link_code, link_code_expires_at, linked)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (tg_chat_id) DO UPDATE
			SET link_code = EXCLUDED.link_code,
			    link_code_expires_at = EXCLUDED.link_code_expires_at,
			    tg_username = EXCLUDED.tg_username`,
		chatID, username, linkCode, expiresAt)
	return err
}

// LinkByCode consumes an unexpired link code. Unknown or expired codes
// return ErrNotFound.
func (s *Store) LinkByCode(ctx context.Context, code string) (*TelegramUser, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE telegram_users
		SET linked = true, link_code = NULL, link_code_expires_at = NULL
		WHERE link_code = $1 AND link_code_expires_at > now()
		RETURNING `+userColumns, code)
	if err != nil {
		return nil, err
	}
	u, err := pgx.CollectOneRow(rows, scanUser)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *Store) GetTelegramUser(ctx context.Context, chatID int64) (*TelegramUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM telegram_users WHERE tg_chat_id = $1`, chatID)
	if err != nil {
		return nil, err
	}
	u, err := pgx.CollectOneRow(rows, scanUser)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// UnlinkTelegram marks the chat unlinked and drops everything it owns:
// subscriptions and LP watches (history rows cascade).
func (s *Store) UnlinkTelegram(ctx context.Context, chatID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM subscriptions WHERE tg_user_id = (SELECT id FROM telegram_users WHERE tg_chat_id = $1)`,
			`DELETE FROM lp_watches WHERE tg_user_id = (SELECT id FROM telegram_users WHERE tg_chat_id = $1)`,
		} {
			if _, err := tx.Exec(ctx, q, chatID); err != nil {
				return err
			}
		}
		return affected(tx.Exec(ctx, `UPDATE telegram_users SET linked = false WHERE tg_chat_id = $1`, chatID))
	})
}

// CountLinkedUsers returns the number of linked Telegram users.
func (s *Store) CountLinkedUsers(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM telegram_users WHERE linked = true`).Scan(&count)
	return count, err
}
