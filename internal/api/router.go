// Package api serves read-only status endpoints for operating the trader:
// health, current position, daily P&L and the recent action journal.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"perptrader/internal/journal"
	"perptrader/internal/model"
)

// StatusSource exposes the live state the endpoints report on.
type StatusSource interface {
	Position() *model.Position
	DailyPnL() float64
}

// NewRouter sets up the status routes. jrnl may be nil when journaling is
// disabled; the actions endpoint then returns an empty list.
func NewRouter(src StatusSource, jrnl *journal.Journal) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		pos := src.Position()
		if pos == nil {
			writeJSON(w, http.StatusOK, map[string]any{"flat": true})
			return
		}
		writeJSON(w, http.StatusOK, pos)
	})

	mux.HandleFunc("/api/v1/pnl", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]float64{"daily_realized": src.DailyPnL()})
	})

	mux.HandleFunc("/api/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				http.Error(w, `{"error":"limit must be 1..1000"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}
		if jrnl == nil {
			writeJSON(w, http.StatusOK, []journal.Record{})
			return
		}
		records, err := jrnl.Recent(limit)
		if err != nil {
			http.Error(w, `{"error":"journal query failed"}`, http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []journal.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
