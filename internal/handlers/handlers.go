// Package handlers exposes the marketplace API over HTTP. Handlers are thin:
// decode, call a controller, map the error taxonomy onto status codes.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haggle/backend/internal/core"
)

// errorCode is the machine-readable label paired with each failure class.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, core.ErrAwaitingHuman):
		return http.StatusBadRequest, "awaiting_human_input"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, core.ErrBackendFailure):
		return http.StatusBadGateway, "backend_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// CORS allows browser clients to reach the API. OPTIONS preflights are
// answered here and never reach the handlers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleHealth reports liveness.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
