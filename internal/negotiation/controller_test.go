package negotiation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

// blockingProvider parks Generate until released, to exercise the
// single-flight guard.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProvider) IsConfigured() bool { return true }

func (p *blockingProvider) Generate(ctx context.Context, _ string) (string, error) {
	close(p.entered)
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return `{"answer": "q", "status_message": "Asking"}`, nil
}

// seedNegotiation loads a listing, both agents, and an open negotiation.
// askPrice/minPrice/maxPrice shape which demo path the agents take.
func seedNegotiation(t *testing.T, askPrice float64, minPrice *float64, maxPrice float64) (*store.MemoryStore, string) {
	t.Helper()
	mem := store.NewMemoryStore()
	now := time.Now().UTC()

	mem.PutListing(&core.Listing{
		ID:        "listing-1",
		SellerID:  "user-s",
		Title:     "Road Bike",
		Category:  "bikes",
		AskPrice:  askPrice,
		Status:    "active",
		CreatedAt: now,
	})
	mem.PutBuyAgent(&core.BuyAgent{
		ID:       "buyer-1",
		UserID:   "user-b",
		Category: "bikes",
		MaxPrice: maxPrice,
		Urgency:  core.UrgencyMedium,
	})
	mem.PutSellAgent(&core.SellAgent{
		ID:        "seller-1",
		UserID:    "user-s",
		ListingID: "listing-1",
		MinPrice:  minPrice,
	})

	n := &core.Negotiation{
		ID:         "neg-1",
		BuyAgentID: "buyer-1",
		ListingID:  "listing-1",
		State:      core.StateNegotiating,
		Ball:       core.BallBuyer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, mem.CreateNegotiation(context.Background(), n))
	return mem, n.ID
}

func newTestController(mem *store.MemoryStore) *Controller {
	return NewController(mem, nil, realtime.NewFanout(), nil, NewOrchestrator(3), time.Second, time.Millisecond)
}

func TestRunStep_UnknownNegotiation(t *testing.T) {
	mem, _ := seedNegotiation(t, 1000, ptr(850), 1100)
	ctrl := newTestController(mem)

	_, err := ctrl.RunStep(context.Background(), "nope", false)

	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRunStep_TerminalStateRejected(t *testing.T) {
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	ctx := context.Background()
	n, _ := mem.GetNegotiation(ctx, negID)
	n.State = core.StateAgreed
	require.NoError(t, mem.UpdateNegotiation(ctx, n))
	ctrl := newTestController(mem)

	_, err := ctrl.RunStep(ctx, negID, false)

	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRunStep_HumanBallRejected(t *testing.T) {
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	ctx := context.Background()
	n, _ := mem.GetNegotiation(ctx, negID)
	n.Ball = core.BallHuman
	require.NoError(t, mem.UpdateNegotiation(ctx, n))
	ctrl := newTestController(mem)

	_, err := ctrl.RunStep(ctx, negID, false)

	assert.ErrorIs(t, err, core.ErrAwaitingHuman)
}

func TestRunStep_SingleFlightGuard(t *testing.T) {
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	provider := &blockingProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctrl := NewController(mem, provider, realtime.NewFanout(), nil, NewOrchestrator(3), 5*time.Second, time.Millisecond)

	type result struct {
		outcome *StepOutcome
		err     error
	}
	firstDone := make(chan result, 1)
	go func() {
		o, err := ctrl.RunStep(context.Background(), negID, false)
		firstDone <- result{o, err}
	}()

	<-provider.entered
	_, err := ctrl.RunStep(context.Background(), negID, false)
	assert.ErrorIs(t, err, core.ErrConflict)

	close(provider.release)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, core.BallSeller, first.outcome.Negotiation.Ball)
}

func TestRunStep_AlternatesToAgreement(t *testing.T) {
	// Ask within budget and a minimum on file: the demo agents converge with
	// no human involvement.
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	ctrl := newTestController(mem)
	ctx := context.Background()

	var final *StepOutcome
	for i := 0; i < 20; i++ {
		outcome, err := ctrl.RunStep(ctx, negID, false)
		require.NoError(t, err)
		if outcome.IsAgreed {
			final = outcome
			break
		}
	}
	require.NotNil(t, final, "negotiation did not converge")

	assert.Equal(t, core.StateAgreed, final.Negotiation.State)
	assert.Equal(t, core.BallSeller, final.Negotiation.Ball)
	require.NotNil(t, final.Negotiation.AgreedPrice)
	assert.Equal(t, 1000.0, *final.Negotiation.AgreedPrice)

	// Once agreed, further steps are rejected.
	_, err := ctrl.RunStep(ctx, negID, false)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	// Every turn is on the audit trail, roles alternating.
	messages, err := mem.ListMessages(ctx, negID)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	for i := 1; i < len(messages); i++ {
		assert.NotEqual(t, messages[i-1].Role, messages[i].Role)
	}

	// The event log carries processing markers and ends with the deal.
	evts, err := mem.ListEventsAfter(ctx, 0, negID, 100)
	require.NoError(t, err)
	var types []core.EventType
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, core.EventAgentProcessing)
	assert.Contains(t, types, core.EventBuyerProposes)
	assert.Contains(t, types, core.EventSellerCounters)
	assert.Equal(t, core.EventDealAgreed, types[len(types)-1])
}

func TestRunStep_EscalatesWithoutMinimumThenResumes(t *testing.T) {
	// No minimum on file and a buyer budget below ask: the seller agent must
	// stop and ask its human.
	mem, negID := seedNegotiation(t, 950, nil, 900)
	ctrl := newTestController(mem)
	ctx := context.Background()

	var parked bool
	for i := 0; i < 20; i++ {
		outcome, err := ctrl.RunStep(ctx, negID, false)
		require.NoError(t, err)
		if outcome.Negotiation.Ball == core.BallHuman {
			require.NotNil(t, outcome.Message.Parsed.UserPrompt)
			assert.Equal(t, core.BallSeller, outcome.Message.Parsed.UserPrompt.Target)
			parked = true
			break
		}
	}
	require.True(t, parked, "seller agent never escalated")

	// Stepping while parked is refused.
	_, err := ctrl.RunStep(ctx, negID, false)
	assert.ErrorIs(t, err, core.ErrAwaitingHuman)

	// The human names a floor; the ball returns to the asking seller agent.
	outcome, err := ctrl.SubmitHumanResponse(ctx, negID, "I can accept 850", false)
	require.NoError(t, err)
	assert.Equal(t, core.BallSeller, outcome.Negotiation.Ball)
	assert.Equal(t, core.RoleHuman, outcome.Message.Role)

	// With the floor known the seller counters instead of re-escalating.
	outcome, err = ctrl.RunStep(ctx, negID, false)
	require.NoError(t, err)
	assert.Equal(t, core.BallBuyer, outcome.Negotiation.Ball)
	require.NotNil(t, outcome.Message.Parsed.PriceProposal)
	assert.GreaterOrEqual(t, *outcome.Message.Parsed.PriceProposal, 850.0)

	evts, err := mem.ListEventsAfter(ctx, 0, negID, 100)
	require.NoError(t, err)
	var sawPromptEvent, sawResponseEvent bool
	for _, e := range evts {
		switch e.Type {
		case core.EventHumanInputRequired:
			sawPromptEvent = true
		case core.EventHumanResponded:
			sawResponseEvent = true
		}
	}
	assert.True(t, sawPromptEvent)
	assert.True(t, sawResponseEvent)
}

func TestRunStep_AutoContinueRunsToAgreement(t *testing.T) {
	// One kick with auto-continue on; the scheduled re-entries drive the
	// demo agents all the way to a deal in the background.
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	ctrl := newTestController(mem)
	ctx := context.Background()

	_, err := ctrl.RunStep(ctx, negID, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := mem.GetNegotiation(ctx, negID)
		return err == nil && n.State == core.StateAgreed
	}, 5*time.Second, 5*time.Millisecond, "auto-continue never reached agreement")

	n, err := mem.GetNegotiation(ctx, negID)
	require.NoError(t, err)
	require.NotNil(t, n.AgreedPrice)
	assert.Equal(t, 1000.0, *n.AgreedPrice)
	assert.Equal(t, core.BallSeller, n.Ball)
}

func TestRunStep_AutoContinueStopsAtHumanBall(t *testing.T) {
	// The chain re-enters the precondition checks each round, so when the
	// seller escalates it stops quietly instead of stepping past the human.
	mem, negID := seedNegotiation(t, 950, nil, 900)
	ctrl := newTestController(mem)
	ctx := context.Background()

	_, err := ctrl.RunStep(ctx, negID, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := mem.GetNegotiation(ctx, negID)
		return err == nil && n.Ball == core.BallHuman
	}, 5*time.Second, 5*time.Millisecond, "seller agent never escalated")

	// Give any stray scheduled continuation a chance to fire, then confirm
	// the negotiation is still parked with the human.
	time.Sleep(50 * time.Millisecond)
	n, err := mem.GetNegotiation(ctx, negID)
	require.NoError(t, err)
	assert.Equal(t, core.BallHuman, n.Ball)
	assert.Equal(t, core.StateNegotiating, n.State)

	messages, err := mem.ListMessages(ctx, negID)
	require.NoError(t, err)
	last := messages[len(messages)-1]
	require.NotNil(t, last.Parsed.UserPrompt)
	assert.Equal(t, core.RoleSellerAgent, last.Role)
}

func TestSubmitHumanResponse_RequiresPendingPrompt(t *testing.T) {
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	ctrl := newTestController(mem)

	_, err := ctrl.SubmitHumanResponse(context.Background(), negID, "hello", false)

	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestSubmitHumanResponse_EmptyRejected(t *testing.T) {
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	ctrl := newTestController(mem)

	_, err := ctrl.SubmitHumanResponse(context.Background(), negID, "", false)

	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRunStep_PublishesDeltas(t *testing.T) {
	mem, negID := seedNegotiation(t, 1000, ptr(850), 1100)
	fanout := realtime.NewFanout()
	ctrl := NewController(mem, nil, fanout, nil, NewOrchestrator(3), time.Second, time.Millisecond)

	sub := fanout.Subscribe(negID)
	defer fanout.Unsubscribe(negID, sub)

	_, err := ctrl.RunStep(context.Background(), negID, false)
	require.NoError(t, err)

	var sawUpdate, sawEvent bool
	for len(sub) > 0 {
		data := <-sub
		if strings.Contains(string(data), `"type":"update"`) {
			sawUpdate = true
		}
		if strings.Contains(string(data), `"type":"event"`) {
			sawEvent = true
		}
	}
	assert.True(t, sawUpdate, "no update delta published")
	assert.True(t, sawEvent, "no event delta published")
}
