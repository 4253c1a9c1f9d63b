package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CLIAIMONITOR/internal/store"
)

// respondJSON and respondError follow the teacher's
// internal/handlers/supervisor.go helpers of the same name.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func respondOK(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeStoreError maps a typed store error (spec.md §7) to the appropriate
// HTTP status and a message safe to show the caller.
func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	var conflict *store.ConflictError
	var invariant *store.InvariantViolationError
	var busy *store.BusyError

	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invariant):
		respondError(w, http.StatusInternalServerError, "invariant violated")
	case errors.As(err, &busy):
		respondError(w, http.StatusServiceUnavailable, "writer busy, retry")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
