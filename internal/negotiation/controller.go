package negotiation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haggle/backend/internal/backend"
	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/events"
	"github.com/haggle/backend/internal/metrics"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

// StepOutcome is what a completed step reports back to the API layer.
type StepOutcome struct {
	Message     *core.Message         `json:"message"`
	Negotiation core.NegotiationShape `json:"negotiation"`
	IsAgreed    bool                  `json:"is_agreed"`
}

// Controller owns the negotiation lifecycle: it screens preconditions, runs
// one turn through the orchestrator, persists the outcome atomically, fans
// out the delta, and optionally paces the next turn.
type Controller struct {
	store    store.Store
	provider backend.Provider
	fanout   *realtime.Fanout
	sink     events.Sink
	orch     *Orchestrator

	backendTimeout time.Duration
	autoDelay      time.Duration
	logger         *log.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // negotiation ids with a step running
}

// NewController wires the lifecycle controller. sink may be nil.
func NewController(st store.Store, provider backend.Provider, fanout *realtime.Fanout, sink events.Sink, orch *Orchestrator, backendTimeout, autoDelay time.Duration) *Controller {
	if sink == nil {
		sink = events.NopSink{}
	}
	if backendTimeout <= 0 {
		backendTimeout = 45 * time.Second
	}
	if autoDelay <= 0 {
		autoDelay = 1500 * time.Millisecond
	}
	return &Controller{
		store:          st,
		provider:       provider,
		fanout:         fanout,
		sink:           sink,
		orch:           orch,
		backendTimeout: backendTimeout,
		autoDelay:      autoDelay,
		logger:         log.New(log.Writer(), "[NEGOTIATION] ", log.LstdFlags),
		inflight:       make(map[string]struct{}),
	}
}

// acquire claims the single-flight slot for one negotiation. Exactly one
// caller wins; everyone else gets ErrConflict until release.
func (c *Controller) acquire(negotiationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[negotiationID]; busy {
		return false
	}
	c.inflight[negotiationID] = struct{}{}
	return true
}

func (c *Controller) release(negotiationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, negotiationID)
}

// RunStep executes one agent turn for the negotiation. Preconditions are
// checked in a fixed order so callers get the most specific error: unknown id,
// wrong state, ball parked with a human, then a step already in flight.
//
// When autoContinue is set and the turn leaves the ball with an agent, the
// next turn is scheduled after a pacing delay and re-enters this method in
// full, so every auto-continued turn passes the same precondition chain.
func (c *Controller) RunStep(ctx context.Context, negotiationID string, autoContinue bool) (*StepOutcome, error) {
	n, err := c.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("negotiation %s: %w", negotiationID, core.ErrNotFound)
	}
	if n.State != core.StateNegotiating {
		return nil, fmt.Errorf("negotiation is %s: %w", n.State, core.ErrInvalidState)
	}
	if n.Ball == core.BallHuman {
		return nil, fmt.Errorf("waiting on a human response: %w", core.ErrAwaitingHuman)
	}

	if !c.acquire(negotiationID) {
		metrics.StepConflictsTotal.Inc()
		return nil, fmt.Errorf("step already in flight for %s: %w", negotiationID, core.ErrConflict)
	}
	defer c.release(negotiationID)

	// Re-read under the guard; the row may have moved while we queued.
	n, err = c.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("negotiation %s: %w", negotiationID, core.ErrNotFound)
	}
	if n.State != core.StateNegotiating {
		return nil, fmt.Errorf("negotiation is %s: %w", n.State, core.ErrInvalidState)
	}
	if n.Ball == core.BallHuman {
		return nil, fmt.Errorf("waiting on a human response: %w", core.ErrAwaitingHuman)
	}

	octx, err := c.loadContext(ctx, n)
	if err != nil {
		return nil, err
	}

	// Announce that an agent is thinking before the (slow) backend call, so
	// feeds show activity during the round trip.
	role := core.RoleBuyerAgent
	if n.Ball == core.BallSeller {
		role = core.RoleSellerAgent
	}
	c.emitEvent(ctx, &core.AppEvent{
		Type:          core.EventAgentProcessing,
		NegotiationID: n.ID,
		Payload:       map[string]interface{}{"role": string(role)},
	})

	var source RawSource = NewDemoSource(octx)
	if c.provider != nil && c.provider.IsConfigured() {
		source = c.provider
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.backendTimeout)
	defer cancel()

	start := time.Now()
	result, err := c.orch.ExecuteStep(stepCtx, octx, source)
	metrics.BackendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StepsTotal.WithLabelValues(string(role), "error").Inc()
		c.logger.Printf("step failed for %s: %v", n.ID, err)
		return nil, err
	}

	now := time.Now().UTC()
	msg := &core.Message{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		Role:          result.Role,
		Raw:           result.Raw,
		Parsed:        result.Parsed,
		CreatedAt:     now,
	}
	n.Ball = result.NewBall
	n.UpdatedAt = now
	if result.IsAgreed {
		n.State = core.StateAgreed
		n.AgreedPrice = result.AgreedPrice
	}

	event := classifyStepEvent(n, msg, result)
	if err := c.store.CommitStep(ctx, msg, n, event); err != nil {
		return nil, fmt.Errorf("persist step for %s: %v", n.ID, err)
	}
	c.sink.Emit(ctx, event)
	c.fanout.Publish(n.ID, map[string]interface{}{"type": "event", "event": event})
	c.fanout.Publish(n.ID, core.Delta{Type: "update", Negotiation: n.Snapshot(), Message: msg})

	outcome := "advanced"
	switch {
	case result.IsAgreed:
		outcome = "agreed"
		metrics.AgreementsTotal.Inc()
	case result.NewBall == core.BallHuman:
		outcome = "human_input"
	}
	metrics.StepsTotal.WithLabelValues(string(result.Role), outcome).Inc()
	c.logger.Printf("step %s role=%s outcome=%s ball=%s", n.ID, result.Role, outcome, n.Ball)

	if autoContinue && !result.IsAgreed && result.NewBall != core.BallHuman {
		c.scheduleContinue(n.ID)
	}

	return &StepOutcome{Message: msg, Negotiation: n.Snapshot(), IsAgreed: result.IsAgreed}, nil
}

// SubmitHumanResponse records a human's answer to a pending agent question and
// hands the ball back to the agent that asked. The asking message's role, not
// the stored prompt target, decides where the ball goes.
func (c *Controller) SubmitHumanResponse(ctx context.Context, negotiationID, response string, autoContinue bool) (*StepOutcome, error) {
	if response == "" {
		return nil, fmt.Errorf("empty response: %w", core.ErrValidation)
	}

	if !c.acquire(negotiationID) {
		metrics.StepConflictsTotal.Inc()
		return nil, fmt.Errorf("step already in flight for %s: %w", negotiationID, core.ErrConflict)
	}
	defer c.release(negotiationID)

	n, err := c.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("negotiation %s: %w", negotiationID, core.ErrNotFound)
	}
	if n.State != core.StateNegotiating || n.Ball != core.BallHuman {
		return nil, fmt.Errorf("no pending human prompt: %w", core.ErrInvalidState)
	}

	asking, err := c.store.LatestMessage(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if asking == nil || asking.Parsed.UserPrompt == nil {
		return nil, fmt.Errorf("no pending human prompt: %w", core.ErrInvalidState)
	}

	now := time.Now().UTC()
	msg := &core.Message{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		Role:          core.RoleHuman,
		Raw:           response,
		Parsed: core.ParsedMessage{
			Answer:        response,
			StatusMessage: "Human responded",
			Concessions:   []string{},
		},
		CreatedAt: now,
	}

	// The agent that asked resumes, regardless of what target the prompt
	// carried on the wire.
	n.Ball = core.BallBuyer
	if asking.Role == core.RoleSellerAgent {
		n.Ball = core.BallSeller
	}
	n.UpdatedAt = now

	event := &core.AppEvent{
		ID:            uuid.NewString(),
		Type:          core.EventHumanResponded,
		NegotiationID: n.ID,
		Payload: map[string]interface{}{
			"question": asking.Parsed.UserPrompt.Question,
			"response": response,
		},
		CreatedAt: now,
	}
	if err := c.store.CommitStep(ctx, msg, n, event); err != nil {
		return nil, fmt.Errorf("persist human response for %s: %v", n.ID, err)
	}
	c.sink.Emit(ctx, event)
	c.fanout.Publish(n.ID, map[string]interface{}{"type": "event", "event": event})
	c.fanout.Publish(n.ID, core.Delta{Type: "update", Negotiation: n.Snapshot(), Message: msg})
	c.logger.Printf("human response recorded for %s, ball=%s", n.ID, n.Ball)

	if autoContinue {
		c.scheduleContinue(n.ID)
	}

	return &StepOutcome{Message: msg, Negotiation: n.Snapshot()}, nil
}

// scheduleContinue paces the next turn. The continuation re-enters RunStep in
// full; if the negotiation moved on in the meantime the precondition chain
// stops it quietly.
func (c *Controller) scheduleContinue(negotiationID string) {
	time.AfterFunc(c.autoDelay, func() {
		if _, err := c.RunStep(context.Background(), negotiationID, true); err != nil {
			c.logger.Printf("auto-continue stopped for %s: %v", negotiationID, err)
		}
	})
}

// loadContext assembles everything one turn needs.
func (c *Controller) loadContext(ctx context.Context, n *core.Negotiation) (*Context, error) {
	listing, err := c.store.GetListing(ctx, n.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("listing %s: %w", n.ListingID, core.ErrNotFound)
	}
	buyAgent, err := c.store.GetBuyAgent(ctx, n.BuyAgentID)
	if err != nil {
		return nil, err
	}
	if buyAgent == nil {
		return nil, fmt.Errorf("buy agent %s: %w", n.BuyAgentID, core.ErrNotFound)
	}
	sellAgent, err := c.store.GetSellAgentByListing(ctx, n.ListingID)
	if err != nil {
		return nil, err
	}
	messages, err := c.store.ListMessages(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return &Context{
		Negotiation: n,
		Listing:     listing,
		BuyAgent:    buyAgent,
		SellAgent:   sellAgent,
		Messages:    messages,
	}, nil
}

// emitEvent writes a transient event row and pushes it to live feeds. Used
// for events outside a step commit; failures are logged, never fatal.
func (c *Controller) emitEvent(ctx context.Context, e *core.AppEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := c.store.InsertEvent(ctx, e); err != nil {
		c.logger.Printf("insert event %s: %v", e.Type, err)
		return
	}
	c.sink.Emit(ctx, e)
	c.fanout.Publish(e.NegotiationID, map[string]interface{}{"type": "event", "event": e})
}

// classifyStepEvent picks the feed event for a completed turn. A struck deal
// outranks a pending question, which outranks a plain proposal.
func classifyStepEvent(n *core.Negotiation, msg *core.Message, result *Result) *core.AppEvent {
	eventType := core.EventBuyerProposes
	if result.Role == core.RoleSellerAgent {
		eventType = core.EventSellerCounters
	}
	payload := map[string]interface{}{
		"role":   string(result.Role),
		"status": result.Parsed.StatusMessage,
	}
	if result.Parsed.PriceProposal != nil {
		payload["price"] = *result.Parsed.PriceProposal
	}

	switch {
	case result.IsAgreed:
		eventType = core.EventDealAgreed
		if result.AgreedPrice != nil {
			payload["agreed_price"] = *result.AgreedPrice
		}
	case result.Parsed.UserPrompt != nil:
		eventType = core.EventHumanInputRequired
		payload["question"] = result.Parsed.UserPrompt.Question
		payload["choices"] = result.Parsed.UserPrompt.Choices
	}

	return &core.AppEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		NegotiationID: n.ID,
		Payload:       payload,
		CreatedAt:     msg.CreatedAt,
	}
}
