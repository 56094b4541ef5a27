// Package handler holds the HTTP handlers for the swap API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"message":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeMessage sends a JSON-formatted {"message": ...} response.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// parseHistoryOpts extracts pagination parameters from the query string:
// limit (positive integer) and cursor (RFC3339 timestamp from a previous
// page's nextCursor). Out-of-range values fall back to the store's defaults.
func parseHistoryOpts(r *http.Request) domain.HistoryListOpts {
	q := r.URL.Query()

	opts := domain.HistoryListOpts{}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := q.Get("cursor"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			opts.Cursor = &t
		}
	}
	return opts
}
