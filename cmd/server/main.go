package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haggle/backend/internal/backend"
	"github.com/haggle/backend/internal/config"
	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/escrow"
	"github.com/haggle/backend/internal/events"
	"github.com/haggle/backend/internal/handlers"
	"github.com/haggle/backend/internal/marketplace"
	"github.com/haggle/backend/internal/negotiation"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := loadConfig()

	st := buildStore(cfg)

	fanout := realtime.NewFanout()
	if cfg.Realtime.RedisAddr != "" {
		relay, err := realtime.NewRedisRelay(context.Background(), cfg.Realtime.RedisAddr, fanout)
		if err != nil {
			log.Printf("Redis relay unavailable, running single-pod: %v", err)
		} else {
			defer relay.Close()
			log.Printf("Redis delta relay connected: %s", cfg.Realtime.RedisAddr)
		}
	}

	var sink events.Sink = events.NopSink{}
	if cfg.Events.PubSubProject != "" && cfg.Events.PubSubTopic != "" {
		ps, err := events.NewPubSubSink(context.Background(), cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			log.Printf("Pub/Sub sink unavailable: %v", err)
		} else {
			sink = ps
			defer ps.Close()
			log.Printf("Pub/Sub event sink connected: %s/%s", cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		}
	}

	provider := backend.NewOpenAIProvider(
		cfg.Reasoning.BaseURL,
		cfg.Reasoning.APIKey,
		cfg.Reasoning.Model,
		cfg.Reasoning.Temperature,
		cfg.Reasoning.MaxRetries,
	)
	if provider.IsConfigured() {
		log.Printf("Reasoning backend configured: model=%s", cfg.Reasoning.Model)
	} else {
		log.Println("No reasoning backend configured, running deterministic demo agents")
	}

	orch := negotiation.NewOrchestrator(cfg.Negotiation.DiscoveryTurns)
	negotiationCtrl := negotiation.NewController(
		st, provider, fanout, sink, orch,
		cfg.Reasoning.BackendTimeout(),
		cfg.Negotiation.AutoContinueDelay(),
	)
	escrowCtrl := escrow.NewController(st, fanout, sink)
	matcher := marketplace.NewMatcher(st, fanout, sink)
	streamHandler := realtime.NewStreamHandler(fanout, cfg.Realtime.AllowedOrigins)

	router := handlers.NewRouter(handlers.Deps{
		Store:       st,
		Negotiation: negotiationCtrl,
		Escrow:      escrowCtrl,
		Matcher:     matcher,
		Stream:      streamHandler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // step requests wait on the reasoning backend
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Haggle API starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Load config %s: %v", path, err)
		}
		cfg = config.Default()
	}
	return cfg
}

func buildStore(cfg *config.Config) store.Store {
	if cfg.Database.URL != "" {
		st, err := store.NewPostgresStore(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			log.Fatalf("Connect postgres: %v", err)
		}
		log.Println("Postgres store connected")
		return st
	}

	log.Println("No DATABASE_URL set, using in-memory store with demo data")
	mem := store.NewMemoryStore()
	seedDemo(mem)
	return mem
}

// seedDemo loads a small catalog so the API is explorable out of the box.
func seedDemo(mem *store.MemoryStore) {
	now := time.Now().UTC()
	minPrice := 850.0

	mem.PutListing(&core.Listing{
		ID:          "listing-bike-1",
		SellerID:    "user-seller-1",
		Title:       "Trek Domane SL5 Road Bike",
		Description: "Carbon frame road bike, 56cm, Shimano 105 groupset. Ridden two seasons.",
		Category:    "bikes",
		Attributes: map[string]string{
			"frame_size": "56cm",
			"groupset":   "Shimano 105",
			"year":       "2022",
		},
		AskPrice: 1200,
		ConditionNotes: []core.ConditionNote{
			{Note: "Minor paint chips on the top tube", Confidence: "high"},
			{Note: "Chain and cassette replaced last spring", Confidence: "medium"},
		},
		HagglingAmmo: []string{
			"Comparable used Domane SL5s list between $1000 and $1300",
			"New model year released, older frames depreciating",
		},
		Status:    "active",
		CreatedAt: now,
	})
	mem.PutSellAgent(&core.SellAgent{
		ID:        "sell-agent-1",
		UserID:    "user-seller-1",
		ListingID: "listing-bike-1",
		MinPrice:  &minPrice,
		Urgency:   core.UrgencyMedium,
		CreatedAt: now,
	})

	mem.PutListing(&core.Listing{
		ID:          "listing-bike-2",
		SellerID:    "user-seller-2",
		Title:       "Specialized Allez Sprint",
		Description: "Aluminum crit bike, 54cm. Upgraded wheels.",
		Category:    "bikes",
		Attributes:  map[string]string{"frame_size": "54cm"},
		AskPrice:    950,
		Status:      "active",
		CreatedAt:   now,
	})
	// listing-bike-2 deliberately has no sell agent minimum on file, which
	// exercises the ask-your-human escalation path.
	mem.PutSellAgent(&core.SellAgent{
		ID:        "sell-agent-2",
		UserID:    "user-seller-2",
		ListingID: "listing-bike-2",
		Urgency:   core.UrgencyHigh,
		CreatedAt: now,
	})

	mem.PutBuyAgent(&core.BuyAgent{
		ID:            "buy-agent-1",
		UserID:        "user-buyer-1",
		Category:      "bikes",
		MaxPrice:      1100,
		Urgency:       core.UrgencyMedium,
		Preferences:   "carbon frame, endurance geometry",
		InternalNotes: "Would stretch to 1100 only for excellent condition",
		CreatedAt:     now,
	})
}
