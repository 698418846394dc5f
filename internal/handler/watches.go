package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

// WatchStore is the persistence behind the watch endpoints.
type WatchStore interface {
	ListWatchesByChat(ctx context.Context, tgChatID int64) ([]store.Watch, error)
	CreateWatch(ctx context.Context, tgChatID int64, address, pool string, ilAlertPct float64) (*store.Watch, error)
	DeleteWatch(ctx context.Context, tgChatID, watchID int64) error
}

// HistoryStore serves the evaluation history of watches.
type HistoryStore interface {
	WatchStore
	ListReportHistory(ctx context.Context, watchID int64, limit int) ([]store.ReportHistory, error)
}

// WatchForgetter drops runtime state of a deleted watch.
type WatchForgetter interface {
	ForgetWatch(ctx context.Context, watchID int64)
}

func ListWatches(s WatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tgChatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		watches, err := s.ListWatchesByChat(r.Context(), tgChatID)
		if err != nil {
			http.Error(w, `{"error":"failed to list watches"}`, http.StatusInternalServerError)
			return
		}
		if watches == nil {
			watches = []store.Watch{}
		}
		writeJSON(w, http.StatusOK, watches)
	}
}

// CreateWatch registers an LP position for periodic checks. A missing or
// zero il_alert_pct falls back to defaultILPct; a negative one disables alerts.
func CreateWatch(s WatchStore, defaultILPct float64) http.HandlerFunc {
	type request struct {
		TgChatID   int64    `json:"tg_chat_id"`
		Address    string   `json:"address"`
		Pool       string   `json:"pool"`
		ILAlertPct *float64 `json:"il_alert_pct"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		req.Address = strings.TrimSpace(req.Address)
		req.Pool = strings.ToUpper(strings.TrimSpace(req.Pool))

		if req.TgChatID == 0 {
			http.Error(w, `{"error":"tg_chat_id required"}`, http.StatusBadRequest)
			return
		}
		if !runeyield.ValidAddress(req.Address) {
			http.Error(w, `{"error":"invalid address"}`, http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.Pool, ".") {
			http.Error(w, `{"error":"pool must look like CHAIN.ASSET"}`, http.StatusBadRequest)
			return
		}
		pct := defaultILPct
		if req.ILAlertPct != nil && *req.ILAlertPct != 0 {
			pct = *req.ILAlertPct
		}
		if pct < 0 {
			pct = 0
		}

		watch, err := s.CreateWatch(r.Context(), req.TgChatID, req.Address, req.Pool, pct)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"telegram account not linked"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, `{"error":"failed to create watch"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, watch)
	}
}

func DeleteWatch(s WatchStore, f WatchForgetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid watch id"}`, http.StatusBadRequest)
			return
		}
		tgChatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}

		err = s.DeleteWatch(r.Context(), tgChatID, id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"watch not found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, `{"error":"failed to delete watch"}`, http.StatusInternalServerError)
			return
		}
		if f != nil {
			f.ForgetWatch(r.Context(), id)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// WatchHistory serves GET /api/watches/{id}/history?tg_chat_id=, newest first.
func WatchHistory(s HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid watch id"}`, http.StatusBadRequest)
			return
		}
		tgChatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		limit := limitParam(r, 100, 1000)

		watches, err := s.ListWatchesByChat(r.Context(), tgChatID)
		if err != nil {
			http.Error(w, `{"error":"failed to list watches"}`, http.StatusInternalServerError)
			return
		}
		owned := false
		for _, wt := range watches {
			owned = owned || wt.ID == id
		}
		if !owned {
			http.Error(w, `{"error":"watch not found"}`, http.StatusNotFound)
			return
		}

		history, err := s.ListReportHistory(r.Context(), id, limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list history"}`, http.StatusInternalServerError)
			return
		}
		if history == nil {
			history = []store.ReportHistory{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}

// chatIDParam reads the required tg_chat_id query parameter and writes the
// 400 itself when it is missing or malformed.
func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("tg_chat_id")
	if v == "" {
		http.Error(w, `{"error":"tg_chat_id required"}`, http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid tg_chat_id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
