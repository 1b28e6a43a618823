package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle/backend/internal/core"
)

func ptr(f float64) *float64 { return &f }

func priced(role core.Role, price float64) core.Message {
	return core.Message{
		Role:   role,
		Parsed: core.ParsedMessage{Answer: "msg", PriceProposal: ptr(price)},
	}
}

func TestDetectAgreement_NoProposal(t *testing.T) {
	history := []core.Message{priced(core.RoleSellerAgent, 900)}

	agreed, price := DetectAgreement(core.ParsedMessage{}, core.RoleBuyerAgent, history)

	assert.False(t, agreed)
	assert.Nil(t, price)
}

func TestDetectAgreement_CounterpartNeverPriced(t *testing.T) {
	history := []core.Message{
		{Role: core.RoleSellerAgent, Parsed: core.ParsedMessage{Answer: "just questions"}},
	}

	agreed, _ := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(900)}, core.RoleBuyerAgent, history)

	assert.False(t, agreed)
}

func TestDetectAgreement_BuyerMatchesSellerExactly(t *testing.T) {
	history := []core.Message{priced(core.RoleSellerAgent, 900)}

	agreed, price := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(900)}, core.RoleBuyerAgent, history)

	assert.True(t, agreed)
	require.NotNil(t, price)
	assert.Equal(t, 900.0, *price)
}

func TestDetectAgreement_BuyerOvershootsSettlesAtSellerPrice(t *testing.T) {
	// Seller stands at 850; the buyer bidding 900 accepts 850, not 900.
	history := []core.Message{priced(core.RoleSellerAgent, 850)}

	agreed, price := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(900)}, core.RoleBuyerAgent, history)

	assert.True(t, agreed)
	require.NotNil(t, price)
	assert.Equal(t, 850.0, *price)
}

func TestDetectAgreement_BuyerBelowSellerNoDeal(t *testing.T) {
	history := []core.Message{priced(core.RoleSellerAgent, 900)}

	agreed, _ := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(800)}, core.RoleBuyerAgent, history)

	assert.False(t, agreed)
}

func TestDetectAgreement_SellerDropsToBuyerPrice(t *testing.T) {
	// Buyer stands at 800; the seller coming down to 780 settles at 800.
	history := []core.Message{priced(core.RoleBuyerAgent, 800)}

	agreed, price := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(780)}, core.RoleSellerAgent, history)

	assert.True(t, agreed)
	require.NotNil(t, price)
	assert.Equal(t, 800.0, *price)
}

func TestDetectAgreement_SellerAboveBuyerNoDeal(t *testing.T) {
	history := []core.Message{priced(core.RoleBuyerAgent, 800)}

	agreed, _ := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(850)}, core.RoleSellerAgent, history)

	assert.False(t, agreed)
}

func TestDetectAgreement_UsesLatestCounterpartPrice(t *testing.T) {
	history := []core.Message{
		priced(core.RoleSellerAgent, 1000),
		priced(core.RoleBuyerAgent, 700),
		priced(core.RoleSellerAgent, 880),
	}

	agreed, price := DetectAgreement(core.ParsedMessage{PriceProposal: ptr(880)}, core.RoleBuyerAgent, history)

	assert.True(t, agreed)
	require.NotNil(t, price)
	assert.Equal(t, 880.0, *price)
}

func TestLastPriceBy(t *testing.T) {
	history := []core.Message{
		priced(core.RoleSellerAgent, 1000),
		{Role: core.RoleSellerAgent, Parsed: core.ParsedMessage{Answer: "no number here"}},
	}

	price := lastPriceBy(history, core.RoleSellerAgent)

	require.NotNil(t, price)
	assert.Equal(t, 1000.0, *price)
	assert.Nil(t, lastPriceBy(history, core.RoleBuyerAgent))
}

func TestCountTurnsBy(t *testing.T) {
	history := []core.Message{
		{Role: core.RoleBuyerAgent},
		{Role: core.RoleSellerAgent},
		{Role: core.RoleBuyerAgent},
		{Role: core.RoleHuman},
	}

	assert.Equal(t, 2, countTurnsBy(history, core.RoleBuyerAgent))
	assert.Equal(t, 1, countTurnsBy(history, core.RoleSellerAgent))
}
