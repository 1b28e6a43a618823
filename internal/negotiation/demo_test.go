package negotiation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle/backend/internal/core"
)

func demoContext(ball core.Ball, minPrice *float64, history ...core.Message) *Context {
	return &Context{
		Negotiation: &core.Negotiation{
			ID:    "neg-1",
			State: core.StateNegotiating,
			Ball:  ball,
		},
		Listing: &core.Listing{
			ID:       "listing-1",
			Title:    "Road Bike",
			Category: "bikes",
			AskPrice: 1200,
			Status:   "active",
		},
		BuyAgent: &core.BuyAgent{
			ID:       "buyer-1",
			Category: "bikes",
			MaxPrice: 1100,
			Urgency:  core.UrgencyMedium,
		},
		SellAgent: &core.SellAgent{
			ID:        "seller-1",
			ListingID: "listing-1",
			MinPrice:  minPrice,
		},
		Messages: history,
	}
}

func generateParsed(t *testing.T, octx *Context) core.ParsedMessage {
	t.Helper()
	role := core.RoleBuyerAgent
	if octx.Negotiation.Ball == core.BallSeller {
		role = core.RoleSellerAgent
	}
	raw, err := NewDemoSource(octx).Generate(context.Background(), "")
	require.NoError(t, err)
	return ParseAgentResponse(raw, role)
}

func TestDemoBuyer_DiscoveryTurnsHaveNoPrice(t *testing.T) {
	var history []core.Message
	for turn := 1; turn <= 3; turn++ {
		octx := demoContext(core.BallBuyer, nil, history...)
		parsed := generateParsed(t, octx)

		assert.Nil(t, parsed.PriceProposal, "turn %d must not carry a price", turn)
		assert.NotEmpty(t, parsed.Answer)

		history = append(history, core.Message{Role: core.RoleBuyerAgent, Parsed: parsed})
		history = append(history, core.Message{
			Role:   core.RoleSellerAgent,
			Parsed: core.ParsedMessage{Answer: "an answer"},
		})
	}
}

func TestDemoBuyer_OpeningOfferIsThreeQuartersOfAsk(t *testing.T) {
	history := []core.Message{
		{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q1"}},
		{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q2"}},
		{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q3"}},
	}
	octx := demoContext(core.BallBuyer, nil, history...)

	parsed := generateParsed(t, octx)

	require.NotNil(t, parsed.PriceProposal)
	assert.Equal(t, 900.0, *parsed.PriceProposal) // round(1200 * 0.75)
}

func TestDemoBuyer_RaisesTowardSellerButNeverAboveBudget(t *testing.T) {
	history := []core.Message{
		{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q1"}},
		{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q2"}},
		{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q3"}},
		priced(core.RoleBuyerAgent, 900),
		priced(core.RoleSellerAgent, 1150),
	}
	octx := demoContext(core.BallBuyer, nil, history...)

	parsed := generateParsed(t, octx)

	require.NotNil(t, parsed.PriceProposal)
	// round(1150 * 1.05) = 1208, clamped to the 1100 budget.
	assert.Equal(t, 1100.0, *parsed.PriceProposal)
}

func TestDemoSeller_HoldsAskWhenBuyerHasNotPriced(t *testing.T) {
	octx := demoContext(core.BallSeller, ptr(850),
		core.Message{Role: core.RoleBuyerAgent, Parsed: core.ParsedMessage{Answer: "q1"}},
	)

	parsed := generateParsed(t, octx)

	require.NotNil(t, parsed.PriceProposal)
	assert.Equal(t, 1200.0, *parsed.PriceProposal)
	assert.Nil(t, parsed.UserPrompt)
}

func TestDemoSeller_NoMinimumEscalatesToHuman(t *testing.T) {
	octx := demoContext(core.BallSeller, nil, priced(core.RoleBuyerAgent, 900))
	octx.SellAgent.MinPrice = nil

	parsed := generateParsed(t, octx)

	assert.Nil(t, parsed.PriceProposal)
	require.NotNil(t, parsed.UserPrompt)
	assert.Equal(t, core.BallSeller, parsed.UserPrompt.Target)
	assert.NotNil(t, parsed.UserPrompt.Choices)
	assert.Empty(t, parsed.UserPrompt.Choices) // free-form answer expected
}

func TestDemoSeller_CountersAtMinimumWhenBuyerBelowIt(t *testing.T) {
	octx := demoContext(core.BallSeller, ptr(1000), priced(core.RoleBuyerAgent, 800))

	parsed := generateParsed(t, octx)

	require.NotNil(t, parsed.PriceProposal)
	assert.Equal(t, 1000.0, *parsed.PriceProposal)
	assert.Nil(t, parsed.UserPrompt)
}

func TestDemoSeller_ConcedesMidpointAboveMinimum(t *testing.T) {
	octx := demoContext(core.BallSeller, ptr(850), priced(core.RoleBuyerAgent, 1000))

	parsed := generateParsed(t, octx)

	require.NotNil(t, parsed.PriceProposal)
	// Midpoint between the buyer's 1000 and the 1200 ask.
	assert.Equal(t, 1100.0, *parsed.PriceProposal)
}

func TestDemoSeller_MissingSellAgentTreatedAsNoMinimum(t *testing.T) {
	octx := demoContext(core.BallSeller, nil, priced(core.RoleBuyerAgent, 900))
	octx.SellAgent = nil

	parsed := generateParsed(t, octx)

	require.NotNil(t, parsed.UserPrompt)
	assert.Equal(t, core.BallSeller, parsed.UserPrompt.Target)
}
