package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/web3-frozen/lp-monitor/internal/monitor"
)

// Stats returns the latest evaluation of every watch, or of one watch when
// watch_id is given.
func Stats(engine *monitor.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("watch_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, `{"error":"invalid watch_id"}`, http.StatusBadRequest)
				return
			}
			st, ok := engine.Status(id)
			if !ok {
				http.Error(w, `{"error":"no data available yet"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(st)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.Statuses())
	}
}

// StatsMetadata describes the watch loop.
func StatsMetadata(engine *monitor.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"watches":        len(engine.Statuses()),
			"watch_interval": engine.Interval().String(),
		})
	}
}
