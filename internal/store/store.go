// Package store is the persistence boundary. All negotiation, message,
// escrow, and event rows live in one relational store; implementations must
// only use parameterized queries.
package store

import (
	"context"

	"github.com/haggle/backend/internal/core"
)

// Store is the single source of truth for marketplace state.
//
// Lookup methods follow the nil-on-missing convention: a missing row returns
// (nil, nil), not an error. Callers decide whether absence is fatal.
type Store interface {
	GetNegotiation(ctx context.Context, id string) (*core.Negotiation, error)
	GetNegotiationByPair(ctx context.Context, buyAgentID, listingID string) (*core.Negotiation, error)
	CreateNegotiation(ctx context.Context, n *core.Negotiation) error
	UpdateNegotiation(ctx context.Context, n *core.Negotiation) error

	// ListMessages returns the full turn history ordered by creation time.
	ListMessages(ctx context.Context, negotiationID string) ([]core.Message, error)
	LatestMessage(ctx context.Context, negotiationID string) (*core.Message, error)
	InsertMessage(ctx context.Context, m *core.Message) error

	GetListing(ctx context.Context, id string) (*core.Listing, error)
	ListListings(ctx context.Context, category string) ([]core.Listing, error)
	GetBuyAgent(ctx context.Context, id string) (*core.BuyAgent, error)
	GetSellAgentByListing(ctx context.Context, listingID string) (*core.SellAgent, error)

	GetEscrowByNegotiation(ctx context.Context, negotiationID string) (*core.Escrow, error)
	CreateEscrow(ctx context.Context, e *core.Escrow) error
	UpdateEscrow(ctx context.Context, e *core.Escrow) error

	// InsertEvent assigns the event's Seq before returning.
	InsertEvent(ctx context.Context, e *core.AppEvent) error
	// ListEventsAfter returns events with Seq > after, oldest first.
	// negotiationID narrows the feed when non-empty.
	ListEventsAfter(ctx context.Context, after int64, negotiationID string, limit int) ([]core.AppEvent, error)

	// CommitStep persists one completed step (new message, updated negotiation
	// row, classified event) as a single logical unit. Implementations with
	// transaction support wrap all three writes; others write the message
	// first so the audit trail survives a partial failure.
	CommitStep(ctx context.Context, m *core.Message, n *core.Negotiation, e *core.AppEvent) error
}
