// Package api implements the HTTP layer for both processes: the ingest and
// download surface on the orchestrator, the submit and retrieve surface on
// the client. Handlers are thin controllers over the repositories and the
// artifact store; all scheduling happens elsewhere.
package api

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Err writes a JSON error response {"error": message}.
func Err(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
