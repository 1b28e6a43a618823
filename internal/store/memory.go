package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haggle/backend/internal/core"
)

// MemoryStore is an in-process Store used by tests and by demo mode when no
// DATABASE_URL is configured. Behavior matches PostgresStore, including the
// nil-on-missing convention and monotone event sequencing.
type MemoryStore struct {
	mu           sync.RWMutex
	negotiations map[string]*core.Negotiation
	messages     map[string][]core.Message // negotiation id -> ordered history
	listings     map[string]*core.Listing
	buyAgents    map[string]*core.BuyAgent
	sellAgents   map[string]*core.SellAgent // keyed by listing id
	escrows      map[string]*core.Escrow    // keyed by negotiation id
	events       []core.AppEvent
	nextSeq      int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		negotiations: make(map[string]*core.Negotiation),
		messages:     make(map[string][]core.Message),
		listings:     make(map[string]*core.Listing),
		buyAgents:    make(map[string]*core.BuyAgent),
		sellAgents:   make(map[string]*core.SellAgent),
		escrows:      make(map[string]*core.Escrow),
	}
}

// Seed helpers, used by demo mode and tests.

func (s *MemoryStore) PutListing(l *core.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
}

func (s *MemoryStore) PutBuyAgent(a *core.BuyAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.buyAgents[a.ID] = &cp
}

func (s *MemoryStore) PutSellAgent(a *core.SellAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.sellAgents[a.ListingID] = &cp
}

func (s *MemoryStore) GetNegotiation(_ context.Context, id string) (*core.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.negotiations[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) GetNegotiationByPair(_ context.Context, buyAgentID, listingID string) (*core.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.negotiations {
		if n.BuyAgentID == buyAgentID && n.ListingID == listingID {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateNegotiation(_ context.Context, n *core.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.negotiations[n.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateNegotiation(_ context.Context, n *core.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.UpdatedAt = time.Now().UTC()
	cp := *n
	s.negotiations[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, negotiationID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[negotiationID]
	out := make([]core.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) LatestMessage(_ context.Context, negotiationID string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[negotiationID]
	if len(history) == 0 {
		return nil, nil
	}
	cp := history[len(history)-1]
	return &cp, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.NegotiationID] = append(s.messages[m.NegotiationID], *m)
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*core.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ListListings(_ context.Context, category string) ([]core.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Listing
	for _, l := range s.listings {
		if l.Status != "active" {
			continue
		}
		if category != "" && l.Category != category {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetBuyAgent(_ context.Context, id string) (*core.BuyAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.buyAgents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetSellAgentByListing(_ context.Context, listingID string) (*core.SellAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.sellAgents[listingID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetEscrowByNegotiation(_ context.Context, negotiationID string) (*core.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[negotiationID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) CreateEscrow(_ context.Context, e *core.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.escrows[e.NegotiationID] = &cp
	return nil
}

func (s *MemoryStore) UpdateEscrow(_ context.Context, e *core.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	s.escrows[e.NegotiationID] = &cp
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *core.AppEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertEventLocked(e)
	return nil
}

func (s *MemoryStore) insertEventLocked(e *core.AppEvent) {
	s.nextSeq++
	e.Seq = s.nextSeq
	s.events = append(s.events, *e)
}

func (s *MemoryStore) ListEventsAfter(_ context.Context, after int64, negotiationID string, limit int) ([]core.AppEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []core.AppEvent
	for _, e := range s.events {
		if e.Seq <= after {
			continue
		}
		if negotiationID != "" && e.NegotiationID != negotiationID {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CommitStep has no transaction to lean on; the message is appended first so
// the audit trail survives any later failure, per the shared-resource policy.
func (s *MemoryStore) CommitStep(_ context.Context, m *core.Message, n *core.Negotiation, e *core.AppEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m != nil {
		s.messages[m.NegotiationID] = append(s.messages[m.NegotiationID], *m)
	}
	n.UpdatedAt = time.Now().UTC()
	cp := *n
	s.negotiations[n.ID] = &cp
	if e != nil {
		s.insertEventLocked(e)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
