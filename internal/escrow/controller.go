// Package escrow drives the settlement state machine that follows an agreed
// negotiation: create, then deposit, then confirm, with a flag/resolve detour
// for disputes. Transaction hashes are recorded once per slot and never
// overwritten.
package escrow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/events"
	"github.com/haggle/backend/internal/metrics"
	"github.com/haggle/backend/internal/realtime"
	"github.com/haggle/backend/internal/store"
)

// transition is one legal escrow move: which negotiation state it requires,
// which it produces, and who acts next.
type transition struct {
	from  core.NegotiationState
	to    core.NegotiationState
	ball  core.Ball
	event core.EventType
}

// transitions maps each action onto the settlement ladder. Every action has
// exactly one entry state; flag and confirm both leave funded, so a funded
// escrow either settles or goes to dispute.
var transitions = map[core.EscrowAction]transition{
	core.EscrowActionCreate:      {from: core.StateAgreed, to: core.StateEscrowCreated, ball: core.BallBuyer, event: core.EventEscrowCreated},
	core.EscrowActionDeposit:     {from: core.StateEscrowCreated, to: core.StateFunded, ball: core.BallBuyer, event: core.EventEscrowFunded},
	core.EscrowActionConfirm:     {from: core.StateFunded, to: core.StateConfirmed, ball: core.BallSeller, event: core.EventEscrowConfirmed},
	core.EscrowActionFlag:        {from: core.StateFunded, to: core.StateFlagged, ball: core.BallHuman, event: core.EventEscrowFlagged},
	core.EscrowActionUpdatePrice: {from: core.StateFlagged, to: core.StateResolved, ball: core.BallBuyer, event: core.EventEscrowResolved},
}

// Outcome reports the applied transition.
type Outcome struct {
	Escrow      *core.Escrow          `json:"escrow"`
	Negotiation core.NegotiationShape `json:"negotiation"`
}

// Controller applies escrow actions against the store and fans out the
// resulting deltas.
type Controller struct {
	store  store.Store
	fanout *realtime.Fanout
	sink   events.Sink
	logger *log.Logger
}

// NewController wires the escrow controller. sink may be nil.
func NewController(st store.Store, fanout *realtime.Fanout, sink events.Sink) *Controller {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Controller{
		store:  st,
		fanout: fanout,
		sink:   sink,
		logger: log.New(log.Writer(), "[ESCROW] ", log.LstdFlags),
	}
}

// Apply performs one escrow action for the negotiation, recording the
// transaction hash in the action's slot. The create action also mints the
// escrow row; every other action requires one to exist.
func (c *Controller) Apply(ctx context.Context, negotiationID string, action core.EscrowAction, txHash string) (*Outcome, error) {
	t, ok := transitions[action]
	if !ok {
		return nil, fmt.Errorf("unknown escrow action %q: %w", action, core.ErrValidation)
	}
	if txHash == "" {
		return nil, fmt.Errorf("missing transaction hash: %w", core.ErrValidation)
	}

	n, err := c.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("negotiation %s: %w", negotiationID, core.ErrNotFound)
	}
	if n.State != t.from {
		return nil, fmt.Errorf("action %s requires state %s, negotiation is %s: %w",
			action, t.from, n.State, core.ErrInvalidState)
	}

	now := time.Now().UTC()
	esc, err := c.store.GetEscrowByNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}

	if action == core.EscrowActionCreate {
		if esc != nil {
			return nil, fmt.Errorf("escrow already exists for %s: %w", negotiationID, core.ErrInvalidState)
		}
		esc = &core.Escrow{
			ID:            uuid.NewString(),
			NegotiationID: negotiationID,
			ItemID:        n.ListingID,
			CreateTx:      &txHash,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := c.store.CreateEscrow(ctx, esc); err != nil {
			return nil, fmt.Errorf("create escrow for %s: %v", negotiationID, err)
		}
	} else {
		if esc == nil {
			return nil, fmt.Errorf("no escrow for %s: %w", negotiationID, core.ErrInvalidState)
		}
		if err := setTxSlot(esc, action, txHash); err != nil {
			return nil, err
		}
		esc.UpdatedAt = now
		if err := c.store.UpdateEscrow(ctx, esc); err != nil {
			return nil, fmt.Errorf("update escrow for %s: %v", negotiationID, err)
		}
	}

	n.State = t.to
	n.Ball = t.ball
	n.UpdatedAt = now
	if err := c.store.UpdateNegotiation(ctx, n); err != nil {
		return nil, fmt.Errorf("update negotiation %s: %v", negotiationID, err)
	}

	event := &core.AppEvent{
		ID:            uuid.NewString(),
		Type:          t.event,
		NegotiationID: negotiationID,
		Payload: map[string]interface{}{
			"action":  string(action),
			"tx_hash": txHash,
			"state":   string(t.to),
		},
		CreatedAt: now,
	}
	if err := c.store.InsertEvent(ctx, event); err != nil {
		c.logger.Printf("insert escrow event for %s: %v", negotiationID, err)
	} else {
		c.sink.Emit(ctx, event)
		c.fanout.Publish(negotiationID, map[string]interface{}{"type": "event", "event": event})
	}
	c.fanout.Publish(negotiationID, core.Delta{Type: "update", Negotiation: n.Snapshot()})

	metrics.EscrowTransitionsTotal.WithLabelValues(string(action)).Inc()
	c.logger.Printf("escrow %s applied to %s, state=%s ball=%s", action, negotiationID, n.State, n.Ball)

	return &Outcome{Escrow: esc, Negotiation: n.Snapshot()}, nil
}

// setTxSlot records the hash in the action's write-once slot.
func setTxSlot(esc *core.Escrow, action core.EscrowAction, txHash string) error {
	var slot **string
	switch action {
	case core.EscrowActionDeposit:
		slot = &esc.DepositTx
	case core.EscrowActionConfirm:
		slot = &esc.ConfirmTx
	case core.EscrowActionFlag:
		slot = &esc.FlagTx
	case core.EscrowActionUpdatePrice:
		slot = &esc.UpdatePriceTx
	default:
		return fmt.Errorf("unknown escrow action %q: %w", action, core.ErrValidation)
	}
	if *slot != nil {
		return fmt.Errorf("transaction for %s already recorded: %w", action, core.ErrInvalidState)
	}
	*slot = &txHash
	return nil
}
