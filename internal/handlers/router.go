package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haggle/backend/internal/escrow"
	"github.com/haggle/backend/internal/marketplace"
	"github.com/haggle/backend/internal/negotiation"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

// Deps is everything the router needs wired in.
type Deps struct {
	Store       store.Store
	Negotiation *negotiation.Controller
	Escrow      *escrow.Controller
	Matcher     *marketplace.Matcher
	Stream      *realtime.StreamHandler
}

// NewRouter assembles the full API surface.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", HandleHealth()).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/listings", HandleListListings(d.Store)).Methods("GET")
	api.HandleFunc("/listings/{id}", HandleGetListing(d.Store)).Methods("GET")

	api.HandleFunc("/agents/{agentId}/matches", HandleFindMatches(d.Matcher)).Methods("GET")
	api.HandleFunc("/matches/act", HandleActOnMatch(d.Matcher)).Methods("POST")

	api.HandleFunc("/negotiations/{id}", HandleGetNegotiation(d.Store)).Methods("GET")
	api.HandleFunc("/negotiations/{id}/step", HandleStep(d.Negotiation)).Methods("POST")
	api.HandleFunc("/negotiations/{id}/human-response", HandleHumanResponse(d.Negotiation)).Methods("POST")
	api.HandleFunc("/negotiations/{id}/escrow", HandleEscrowAction(d.Escrow)).Methods("POST")
	api.HandleFunc("/negotiations/{id}/escrow", HandleGetEscrow(d.Store)).Methods("GET")

	api.HandleFunc("/events", HandleListEvents(d.Store)).Methods("GET")

	api.HandleFunc("/negotiations/{id}/stream", HandleStream(d.Stream)).Methods("GET")

	router.Use(CORS)
	router.Use(loggingMiddleware)

	return router
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
