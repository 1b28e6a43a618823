package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle/backend/internal/core"
)

func TestMemoryStore_NilOnMissing(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	n, err := mem.GetNegotiation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, n)

	l, err := mem.GetListing(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, l)

	m, err := mem.LatestMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, m)

	e, err := mem.GetEscrowByNegotiation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestMemoryStore_NegotiationRoundTrip(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	n := &core.Negotiation{
		ID:         "neg-1",
		BuyAgentID: "buyer-1",
		ListingID:  "listing-1",
		State:      core.StateNegotiating,
		Ball:       core.BallBuyer,
	}
	require.NoError(t, mem.CreateNegotiation(ctx, n))

	got, err := mem.GetNegotiation(ctx, "neg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.BallBuyer, got.Ball)

	byPair, err := mem.GetNegotiationByPair(ctx, "buyer-1", "listing-1")
	require.NoError(t, err)
	require.NotNil(t, byPair)
	assert.Equal(t, "neg-1", byPair.ID)

	// Returned copies do not alias the stored row.
	got.Ball = core.BallSeller
	fresh, _ := mem.GetNegotiation(ctx, "neg-1")
	assert.Equal(t, core.BallBuyer, fresh.Ball)
}

func TestMemoryStore_MessagesKeepOrder(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	for i, role := range []core.Role{core.RoleBuyerAgent, core.RoleSellerAgent, core.RoleBuyerAgent} {
		require.NoError(t, mem.InsertMessage(ctx, &core.Message{
			ID:            string(rune('a' + i)),
			NegotiationID: "neg-1",
			Role:          role,
			CreatedAt:     time.Now().UTC(),
		}))
	}

	history, err := mem.ListMessages(ctx, "neg-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, core.RoleBuyerAgent, history[0].Role)
	assert.Equal(t, core.RoleSellerAgent, history[1].Role)

	latest, err := mem.LatestMessage(ctx, "neg-1")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
}

func TestMemoryStore_EventSequencing(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := &core.AppEvent{ID: string(rune('a' + i)), Type: core.EventBuyerProposes, NegotiationID: "neg-1"}
		require.NoError(t, mem.InsertEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Seq)
	}
	require.NoError(t, mem.InsertEvent(ctx, &core.AppEvent{ID: "other", Type: core.EventDealAgreed, NegotiationID: "neg-2"}))

	evts, err := mem.ListEventsAfter(ctx, 2, "neg-1", 10)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, int64(3), evts[0].Seq)

	limited, err := mem.ListEventsAfter(ctx, 0, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStore_CommitStepIsOneUnit(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	n := &core.Negotiation{ID: "neg-1", State: core.StateNegotiating, Ball: core.BallBuyer}
	require.NoError(t, mem.CreateNegotiation(ctx, n))

	n.Ball = core.BallSeller
	msg := &core.Message{ID: "m1", NegotiationID: "neg-1", Role: core.RoleBuyerAgent}
	evt := &core.AppEvent{ID: "e1", Type: core.EventBuyerProposes, NegotiationID: "neg-1"}
	require.NoError(t, mem.CommitStep(ctx, msg, n, evt))

	got, _ := mem.GetNegotiation(ctx, "neg-1")
	assert.Equal(t, core.BallSeller, got.Ball)

	history, _ := mem.ListMessages(ctx, "neg-1")
	assert.Len(t, history, 1)

	evts, _ := mem.ListEventsAfter(ctx, 0, "neg-1", 10)
	require.Len(t, evts, 1)
	assert.Equal(t, int64(1), evts[0].Seq)
}

func TestMemoryStore_ListListingsFilters(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	mem.PutListing(&core.Listing{ID: "a", Category: "bikes", Status: "active"})
	mem.PutListing(&core.Listing{ID: "b", Category: "cars", Status: "active"})
	mem.PutListing(&core.Listing{ID: "c", Category: "bikes", Status: "sold"})

	bikes, err := mem.ListListings(ctx, "bikes")
	require.NoError(t, err)
	require.Len(t, bikes, 1)
	assert.Equal(t, "a", bikes[0].ID)

	all, err := mem.ListListings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_EscrowRoundTrip(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	tx := "0x1"
	require.NoError(t, mem.CreateEscrow(ctx, &core.Escrow{
		ID:            "esc-1",
		NegotiationID: "neg-1",
		CreateTx:      &tx,
	}))

	esc, err := mem.GetEscrowByNegotiation(ctx, "neg-1")
	require.NoError(t, err)
	require.NotNil(t, esc)
	assert.Equal(t, "0x1", *esc.CreateTx)

	dep := "0x2"
	esc.DepositTx = &dep
	require.NoError(t, mem.UpdateEscrow(ctx, esc))

	esc, _ = mem.GetEscrowByNegotiation(ctx, "neg-1")
	require.NotNil(t, esc.DepositTx)
	assert.Equal(t, "0x2", *esc.DepositTx)
}
