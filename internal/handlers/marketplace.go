package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/marketplace"
	"github.com/haggle/backend/internal/store"
)

// HandleListListings returns active listings, optionally filtered by
// category.
func HandleListListings(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listings, err := st.ListListings(r.Context(), r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, err)
			return
		}
		if listings == nil {
			listings = []core.Listing{}
		}
		writeJSON(w, http.StatusOK, listings)
	}
}

// HandleGetListing returns one listing.
func HandleGetListing(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		listing, err := st.GetListing(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if listing == nil {
			writeError(w, fmt.Errorf("listing %s: %w", id, core.ErrNotFound))
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

// HandleFindMatches returns scored listing matches for a buy agent.
func HandleFindMatches(m *marketplace.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, err := m.FindMatches(r.Context(), mux.Vars(r)["agentId"])
		if err != nil {
			writeError(w, err)
			return
		}
		if matches == nil {
			matches = []marketplace.Match{}
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

// HandleActOnMatch opens (or returns the existing) negotiation for a buy
// agent and listing.
func HandleActOnMatch(m *marketplace.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BuyAgentID string `json:"buy_agent_id"`
			ListingID  string `json:"listing_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("invalid request body: %w", core.ErrValidation))
			return
		}
		if req.BuyAgentID == "" || req.ListingID == "" {
			writeError(w, fmt.Errorf("buy_agent_id and listing_id are required: %w", core.ErrValidation))
			return
		}

		n, err := m.ActOnMatch(r.Context(), req.BuyAgentID, req.ListingID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}
