package api

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, details ...string) {
	body := map[string]interface{}{"error": message}
	if len(details) > 0 {
		body["details"] = details
	}
	respondJSON(w, status, body)
}
