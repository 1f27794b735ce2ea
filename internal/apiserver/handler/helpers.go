package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// writeJSON is a shared helper for all handlers.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// windowParams parses the required from/until query parameters, epoch ms.
func windowParams(r *http.Request) (int64, int64, bool) {
	from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	until, err2 := strconv.ParseInt(r.URL.Query().Get("until"), 10, 64)
	if err1 != nil || err2 != nil || until <= from {
		return 0, 0, false
	}
	return from, until, true
}
