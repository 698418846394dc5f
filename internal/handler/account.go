package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

// AccountStore backs the account side of the API: linking a Telegram chat,
// the subscribable events and what was sent to the chat.
type AccountStore interface {
	ListEvents(ctx context.Context) ([]store.Event, error)
	LinkByCode(ctx context.Context, code string) (*store.TelegramUser, error)
	UnlinkTelegram(ctx context.Context, chatID int64) error
	GetTelegramUser(ctx context.Context, chatID int64) (*store.TelegramUser, error)
	ListSubscriptions(ctx context.Context, tgChatID int64) ([]store.Subscription, error)
	Subscribe(ctx context.Context, tgChatID int64, eventID int) (*store.Subscription, error)
	Unsubscribe(ctx context.Context, tgChatID, subID int64) error
	ListNotifications(ctx context.Context, tgChatID int64, limit int) ([]store.NotificationLog, error)
}

func ListEvents(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := s.ListEvents(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to list events"}`, http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []store.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// LinkTelegram consumes the code the bot handed out on /start.
func LinkTelegram(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
			http.Error(w, `{"error":"code required"}`, http.StatusBadRequest)
			return
		}

		user, err := s.LinkByCode(r.Context(), req.Code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, `{"error":"invalid or expired link code"}`, http.StatusNotFound)
		case err != nil:
			http.Error(w, `{"error":"failed to link"}`, http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, user)
		}
	}
}

// UnlinkTelegram also drops the chat's watches and subscriptions.
func UnlinkTelegram(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TgChatID int64 `json:"tg_chat_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TgChatID == 0 {
			http.Error(w, `{"error":"tg_chat_id required"}`, http.StatusBadRequest)
			return
		}

		err := s.UnlinkTelegram(r.Context(), req.TgChatID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, `{"error":"telegram account not found"}`, http.StatusNotFound)
		case err != nil:
			http.Error(w, `{"error":"failed to unlink"}`, http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// LinkStatus reports {"linked": bool}; an unknown chat is simply not linked.
func LinkStatus(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		user, err := s.GetTelegramUser(r.Context(), chatID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"failed to load telegram user"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"linked": user != nil && user.Linked})
	}
}

func ListSubscriptions(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		subs, err := s.ListSubscriptions(r.Context(), chatID)
		if err != nil {
			http.Error(w, `{"error":"failed to list subscriptions"}`, http.StatusInternalServerError)
			return
		}
		if subs == nil {
			subs = []store.Subscription{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func Subscribe(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TgChatID int64 `json:"tg_chat_id"`
			EventID  int   `json:"event_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.TgChatID == 0 || req.EventID == 0 {
			http.Error(w, `{"error":"tg_chat_id and event_id required"}`, http.StatusBadRequest)
			return
		}

		sub, err := s.Subscribe(r.Context(), req.TgChatID, req.EventID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, `{"error":"telegram account not linked"}`, http.StatusNotFound)
		case err != nil:
			http.Error(w, `{"error":"failed to subscribe"}`, http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusCreated, sub)
		}
	}
}

// Unsubscribe serves DELETE /api/subscriptions/{id}?tg_chat_id=.
func Unsubscribe(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid subscription id"}`, http.StatusBadRequest)
			return
		}
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}

		err = s.Unsubscribe(r.Context(), chatID, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, `{"error":"subscription not found"}`, http.StatusNotFound)
		case err != nil:
			http.Error(w, `{"error":"failed to unsubscribe"}`, http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// ListNotifications returns the latest alerts and reports sent to a chat.
func ListNotifications(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		logs, err := s.ListNotifications(r.Context(), chatID, limitParam(r, 50, 100))
		if err != nil {
			http.Error(w, `{"error":"failed to list notifications"}`, http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []store.NotificationLog{}
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

// limitParam reads ?limit=, falling back to def when it is missing or
// outside (0, upper].
func limitParam(r *http.Request, def, upper int) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= upper {
		return l
	}
	return def
}
