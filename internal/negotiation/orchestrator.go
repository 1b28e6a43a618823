package negotiation

import (
	"context"
	"fmt"

	"github.com/haggle/backend/internal/core"
)

// Context is everything a single turn needs: the negotiation row, both
// parties' constraints, the listing, and the full ordered turn history.
type Context struct {
	Negotiation *core.Negotiation
	Listing     *core.Listing
	BuyAgent    *core.BuyAgent
	SellAgent   *core.SellAgent // nil when the listing has no seller agent yet
	Messages    []core.Message
}

// Result is what one executed turn wants persisted. The orchestrator itself
// never touches the store.
type Result struct {
	Role        core.Role
	Raw         string
	Parsed      core.ParsedMessage
	NewBall     core.Ball
	IsAgreed    bool
	AgreedPrice *float64
}

// RawSource produces the raw agent output for one turn. The real reasoning
// backend and the deterministic demo generator both satisfy this, so there is
// exactly one decision path (parse → agreement → ball) fed by two content
// sources. Which source runs is the lifecycle controller's choice.
type RawSource interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Orchestrator executes exactly one agent turn. Pure relative to persistence.
type Orchestrator struct {
	discoveryTurns int
}

// NewOrchestrator configures the engine. discoveryTurns <= 0 uses the default
// of three question-only buyer turns.
func NewOrchestrator(discoveryTurns int) *Orchestrator {
	if discoveryTurns <= 0 {
		discoveryTurns = 3
	}
	return &Orchestrator{discoveryTurns: discoveryTurns}
}

// ExecuteStep drives the side holding the ball through one turn: build the
// role prompt, obtain raw output, parse and validate it, detect agreement,
// and compute who holds the ball next.
//
// Calling this with the ball at a human is a caller bug, reported as
// ErrInvalidState; the lifecycle controller screens that case out first.
func (o *Orchestrator) ExecuteStep(ctx context.Context, octx *Context, source RawSource) (*Result, error) {
	if octx.Negotiation.Ball == core.BallHuman {
		return nil, fmt.Errorf("ball is with a human: %w", core.ErrInvalidState)
	}

	strategy := strategyFor(octx.Negotiation.Ball, o.discoveryTurns)
	prompt := strategy.BuildPrompt(octx)

	raw, err := source.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
	}

	parsed := ParseAgentResponse(raw, strategy.Role())
	agreed, agreedPrice := DetectAgreement(parsed, strategy.Role(), octx.Messages)

	// Ball routing, in priority order: a struck deal hands the ball to the
	// seller (who must initiate escrow); an open user_prompt blocks on a
	// human; otherwise the other agent moves.
	newBall := strategy.OtherBall()
	if agreed {
		newBall = core.BallSeller
	} else if parsed.UserPrompt != nil {
		newBall = core.BallHuman
	}

	return &Result{
		Role:        strategy.Role(),
		Raw:         raw,
		Parsed:      parsed,
		NewBall:     newBall,
		IsAgreed:    agreed,
		AgreedPrice: agreedPrice,
	}, nil
}
