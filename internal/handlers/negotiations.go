package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/negotiation"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

// HandleGetNegotiation returns one negotiation with its full turn history.
func HandleGetNegotiation(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		n, err := st.GetNegotiation(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if n == nil {
			writeError(w, fmt.Errorf("negotiation %s: %w", id, core.ErrNotFound))
			return
		}
		messages, err := st.ListMessages(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if messages == nil {
			messages = []core.Message{}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"negotiation": n,
			"messages":    messages,
		})
	}
}

// HandleStep executes one agent turn.
func HandleStep(ctrl *negotiation.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req struct {
			AutoContinue bool `json:"auto_continue"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, fmt.Errorf("invalid request body: %w", core.ErrValidation))
				return
			}
		}

		outcome, err := ctrl.RunStep(r.Context(), id, req.AutoContinue)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// HandleHumanResponse records a human's answer to a pending agent question.
// The target field is advisory only; routing follows the asking agent's role.
func HandleHumanResponse(ctrl *negotiation.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req struct {
			Response     string `json:"response"`
			Target       string `json:"target"`
			AutoContinue bool   `json:"auto_continue"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("invalid request body: %w", core.ErrValidation))
			return
		}

		outcome, err := ctrl.SubmitHumanResponse(r.Context(), id, req.Response, req.AutoContinue)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// HandleStream upgrades to WebSocket and pushes live deltas for one
// negotiation.
func HandleStream(sh *realtime.StreamHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sh.ServeNegotiation(w, r, mux.Vars(r)["id"])
	}
}
