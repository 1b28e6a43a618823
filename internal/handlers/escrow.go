package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/escrow"
	"github.com/haggle/backend/internal/store"
)

// HandleEscrowAction applies one settlement action to a negotiation.
func HandleEscrowAction(ctrl *escrow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req struct {
			Action string `json:"action"`
			TxHash string `json:"tx_hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("invalid request body: %w", core.ErrValidation))
			return
		}

		outcome, err := ctrl.Apply(r.Context(), id, core.EscrowAction(req.Action), req.TxHash)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// HandleGetEscrow returns the settlement record for a negotiation.
func HandleGetEscrow(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		esc, err := st.GetEscrowByNegotiation(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if esc == nil {
			writeError(w, fmt.Errorf("no escrow for negotiation %s: %w", id, core.ErrNotFound))
			return
		}
		writeJSON(w, http.StatusOK, esc)
	}
}
