// Package marketplace pairs buy agents with listings and opens negotiations
// for accepted matches.
package marketplace

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/events"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

// Match is a scored pairing of a buy agent and a listing.
type Match struct {
	Listing *core.Listing `json:"listing"`
	Score   float64       `json:"score"`
}

// Matcher finds candidate listings for a buy agent and opens negotiations.
type Matcher struct {
	store  store.Store
	fanout *realtime.Fanout
	sink   events.Sink
	logger *log.Logger
}

// NewMatcher wires the matcher. sink may be nil.
func NewMatcher(st store.Store, fanout *realtime.Fanout, sink events.Sink) *Matcher {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Matcher{
		store:  st,
		fanout: fanout,
		sink:   sink,
		logger: log.New(log.Writer(), "[MATCHER] ", log.LstdFlags),
	}
}

// FindMatches scores every active listing in the agent's category and returns
// them best first. Listings priced hopelessly above budget are dropped.
func (m *Matcher) FindMatches(ctx context.Context, buyAgentID string) ([]Match, error) {
	agent, err := m.store.GetBuyAgent(ctx, buyAgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("buy agent %s: %w", buyAgentID, core.ErrNotFound)
	}

	listings, err := m.store.ListListings(ctx, agent.Category)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for i := range listings {
		l := &listings[i]
		if l.Status != "active" {
			continue
		}
		score := ScoreMatch(agent, l)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Listing: l, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// ScoreMatch rates a listing for a buy agent in [0,1]. Zero means no match.
// Price fit dominates; ask prices up to 30% over budget still score, since a
// negotiation exists to close exactly that gap.
func ScoreMatch(agent *core.BuyAgent, listing *core.Listing) float64 {
	if !strings.EqualFold(agent.Category, listing.Category) {
		return 0
	}
	if agent.MaxPrice <= 0 {
		return 0
	}

	ratio := listing.AskPrice / agent.MaxPrice
	var priceFit float64
	switch {
	case ratio <= 1:
		// At or under budget. Cheaper is better, but not linearly so: a
		// listing at 60% of budget should not crowd out one at 90%.
		priceFit = 1 - 0.3*ratio
	case ratio <= 1.3:
		// Over budget but within haggling distance of it.
		priceFit = (1.3 - ratio) / 0.3 * 0.5
	default:
		return 0
	}

	score := priceFit
	if agent.Preferences != "" {
		text := strings.ToLower(listing.Title + " " + listing.Description)
		for _, word := range strings.Fields(strings.ToLower(agent.Preferences)) {
			if len(word) >= 4 && strings.Contains(text, word) {
				score += 0.05
			}
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ActOnMatch opens a negotiation for the pair. At most one negotiation exists
// per (buy agent, listing); acting on an already-opened match returns the
// existing negotiation unchanged.
func (m *Matcher) ActOnMatch(ctx context.Context, buyAgentID, listingID string) (*core.Negotiation, error) {
	agent, err := m.store.GetBuyAgent(ctx, buyAgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("buy agent %s: %w", buyAgentID, core.ErrNotFound)
	}
	listing, err := m.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("listing %s: %w", listingID, core.ErrNotFound)
	}

	existing, err := m.store.GetNegotiationByPair(ctx, buyAgentID, listingID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	n := &core.Negotiation{
		ID:         uuid.NewString(),
		BuyAgentID: buyAgentID,
		ListingID:  listingID,
		State:      core.StateNegotiating,
		Ball:       core.BallBuyer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.CreateNegotiation(ctx, n); err != nil {
		return nil, fmt.Errorf("create negotiation for %s/%s: %v", buyAgentID, listingID, err)
	}

	event := &core.AppEvent{
		ID:            uuid.NewString(),
		Type:          core.EventMatchAccepted,
		NegotiationID: n.ID,
		UserID:        agent.UserID,
		Payload: map[string]interface{}{
			"listing_id":    listingID,
			"listing_title": listing.Title,
			"buy_agent_id":  buyAgentID,
		},
		CreatedAt: now,
	}
	if err := m.store.InsertEvent(ctx, event); err != nil {
		m.logger.Printf("insert match event for %s: %v", n.ID, err)
	} else {
		m.sink.Emit(ctx, event)
		m.fanout.Publish(n.ID, map[string]interface{}{"type": "event", "event": event})
	}
	m.logger.Printf("negotiation %s opened for agent=%s listing=%s", n.ID, buyAgentID, listingID)

	return n, nil
}
