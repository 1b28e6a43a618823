package negotiation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle/backend/internal/core"
)

// stubSource returns a fixed raw payload (or error) regardless of prompt.
type stubSource struct {
	raw string
	err error
}

func (s stubSource) Generate(context.Context, string) (string, error) {
	return s.raw, s.err
}

func TestExecuteStep_RejectsHumanBall(t *testing.T) {
	octx := demoContext(core.BallHuman, nil)

	_, err := NewOrchestrator(3).ExecuteStep(context.Background(), octx, stubSource{})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestExecuteStep_WrapsBackendFailure(t *testing.T) {
	octx := demoContext(core.BallBuyer, nil)

	_, err := NewOrchestrator(3).ExecuteStep(context.Background(), octx, stubSource{err: errors.New("boom")})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackendFailure)
}

func TestExecuteStep_NormalTurnPassesBall(t *testing.T) {
	octx := demoContext(core.BallBuyer, nil)
	raw := `{"answer": "q", "status_message": "Asking"}`

	result, err := NewOrchestrator(3).ExecuteStep(context.Background(), octx, stubSource{raw: raw})

	require.NoError(t, err)
	assert.Equal(t, core.RoleBuyerAgent, result.Role)
	assert.Equal(t, core.BallSeller, result.NewBall)
	assert.False(t, result.IsAgreed)
}

func TestExecuteStep_UserPromptParksBallWithHuman(t *testing.T) {
	octx := demoContext(core.BallSeller, nil, priced(core.RoleBuyerAgent, 900))
	raw := `{"answer": "need guidance", "status_message": "Checking",
		"user_prompt": {"target": "seller", "question": "Minimum?", "choices": []}}`

	result, err := NewOrchestrator(3).ExecuteStep(context.Background(), octx, stubSource{raw: raw})

	require.NoError(t, err)
	assert.Equal(t, core.BallHuman, result.NewBall)
	require.NotNil(t, result.Parsed.UserPrompt)
	assert.Equal(t, core.BallSeller, result.Parsed.UserPrompt.Target)
}

func TestExecuteStep_AgreementHandsBallToSeller(t *testing.T) {
	// Buyer matches the seller's standing 850 while also asking a question;
	// a struck deal outranks the pending prompt for ball routing.
	octx := demoContext(core.BallBuyer, nil, priced(core.RoleSellerAgent, 850))
	raw := `{"answer": "deal", "status_message": "Accepting", "price_proposal": 850,
		"user_prompt": {"target": "buyer", "question": "Confirm?", "choices": []}}`

	result, err := NewOrchestrator(3).ExecuteStep(context.Background(), octx, stubSource{raw: raw})

	require.NoError(t, err)
	assert.True(t, result.IsAgreed)
	require.NotNil(t, result.AgreedPrice)
	assert.Equal(t, 850.0, *result.AgreedPrice)
	assert.Equal(t, core.BallSeller, result.NewBall)
}

func TestExecuteStep_GarbageOutputStillAdvances(t *testing.T) {
	octx := demoContext(core.BallSeller, ptr(850), priced(core.RoleBuyerAgent, 900))

	result, err := NewOrchestrator(3).ExecuteStep(context.Background(), octx, stubSource{raw: "not json at all"})

	require.NoError(t, err)
	assert.Equal(t, "not json at all", result.Parsed.Answer)
	assert.Equal(t, "Processing response...", result.Parsed.StatusMessage)
	assert.Equal(t, core.BallBuyer, result.NewBall)
	assert.False(t, result.IsAgreed)
}

func TestExecuteStep_DemoDealConverges(t *testing.T) {
	// Drive buyer and seller demo agents against each other until agreement.
	orch := NewOrchestrator(3)
	octx := demoContext(core.BallBuyer, ptr(850))
	octx.Listing.AskPrice = 1000 // within the buyer's budget so a deal exists

	for i := 0; i < 30; i++ {
		result, err := orch.ExecuteStep(context.Background(), octx, NewDemoSource(octx))
		require.NoError(t, err)

		role := result.Role
		octx.Messages = append(octx.Messages, core.Message{Role: role, Parsed: result.Parsed})
		octx.Negotiation.Ball = result.NewBall

		if result.IsAgreed {
			require.NotNil(t, result.AgreedPrice)
			assert.LessOrEqual(t, *result.AgreedPrice, octx.BuyAgent.MaxPrice)
			assert.GreaterOrEqual(t, *result.AgreedPrice, *octx.SellAgent.MinPrice)
			return
		}
		require.NotEqual(t, core.BallHuman, result.NewBall, "demo agents with a minimum set must not escalate")
	}
	t.Fatal("demo negotiation did not converge")
}
