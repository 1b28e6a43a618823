// Package core defines the domain model shared by every service in the
// marketplace backend: negotiations, messages, listings, agents, escrows,
// and the append-only activity event log.
package core

import "time"

// NegotiationState is the lifecycle state of a negotiation.
type NegotiationState string

const (
	StateNegotiating   NegotiationState = "negotiating"
	StateAgreed        NegotiationState = "agreed"
	StateEscrowCreated NegotiationState = "escrow_created"
	StateFunded        NegotiationState = "funded"
	StateConfirmed     NegotiationState = "confirmed"
	StateFlagged       NegotiationState = "flagged"
	StateResolved      NegotiationState = "resolved"
)

// IsTerminal returns true once a negotiation can no longer move.
func (s NegotiationState) IsTerminal() bool {
	return s == StateConfirmed || s == StateResolved
}

// Ball identifies which party must act next.
type Ball string

const (
	BallBuyer  Ball = "buyer"
	BallSeller Ball = "seller"
	BallHuman  Ball = "human"
)

// Role identifies the author of a message.
type Role string

const (
	RoleBuyerAgent  Role = "buyer_agent"
	RoleSellerAgent Role = "seller_agent"
	RoleSystem      Role = "system"
	RoleHuman       Role = "human"
)

// Negotiation is one active bargaining session between a buy agent and a
// listing. There is at most one per (buy_agent, listing) pair.
type Negotiation struct {
	ID          string           `json:"id"`
	BuyAgentID  string           `json:"buy_agent_id"`
	ListingID   string           `json:"listing_id"`
	State       NegotiationState `json:"state"`
	Ball        Ball             `json:"ball"`
	AgreedPrice *float64         `json:"agreed_price"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// UserPrompt is an embedded request for human input. Target is always the
// asking agent's own human; the parser enforces this regardless of what the
// model emitted.
type UserPrompt struct {
	Target   Ball     `json:"target"` // buyer or seller
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
}

// ParsedMessage is the structured form of an agent turn.
type ParsedMessage struct {
	Answer        string      `json:"answer"`
	StatusMessage string      `json:"status_message"`
	PriceProposal *float64    `json:"price_proposal"`
	Concessions   []string    `json:"concessions"`
	UserPrompt    *UserPrompt `json:"user_prompt,omitempty"`
}

// Message is one entry in a negotiation's turn history. Raw is kept verbatim
// for audit even when parsing failed. Messages are never mutated.
type Message struct {
	ID            string        `json:"id"`
	NegotiationID string        `json:"negotiation_id"`
	Role          Role          `json:"role"`
	Raw           string        `json:"raw"`
	Parsed        ParsedMessage `json:"parsed"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ConditionNote is a fact about an item's condition with an extraction
// confidence tag.
type ConditionNote struct {
	Note       string `json:"note"`
	Confidence string `json:"confidence"` // high | medium | low
}

// Listing is a sale item. Read-only to the negotiation core.
type Listing struct {
	ID             string            `json:"id"`
	SellerID       string            `json:"seller_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	Attributes     map[string]string `json:"attributes"`
	AskPrice       float64           `json:"ask_price"`
	ConditionNotes []ConditionNote   `json:"condition_notes"`
	HagglingAmmo   []string          `json:"haggling_ammo"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Urgency expresses how quickly a party wants the deal closed.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// BuyAgent negotiates on behalf of a buyer.
type BuyAgent struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Category      string    `json:"category"`
	MaxPrice      float64   `json:"max_price"`
	Urgency       Urgency   `json:"urgency"`
	Preferences   string    `json:"preferences"`
	InternalNotes string    `json:"internal_notes"`
	CreatedAt     time.Time `json:"created_at"`
}

// SellAgent negotiates on behalf of a seller. MinPrice may be unset, which is
// distinct from zero: the agent must then ask its human for a floor before
// accepting anything below ask.
type SellAgent struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ListingID     string    `json:"listing_id"`
	MinPrice      *float64  `json:"min_price"`
	Urgency       Urgency   `json:"urgency"`
	Preferences   string    `json:"preferences"`
	InternalNotes string    `json:"internal_notes"`
	CreatedAt     time.Time `json:"created_at"`
}

// EscrowAction names one of the five settlement transactions.
type EscrowAction string

const (
	EscrowActionCreate      EscrowAction = "create"
	EscrowActionDeposit     EscrowAction = "deposit"
	EscrowActionConfirm     EscrowAction = "confirm"
	EscrowActionFlag        EscrowAction = "flag"
	EscrowActionUpdatePrice EscrowAction = "update_price"
)

// Escrow is the settlement record for an agreed negotiation; 1:1 with the
// negotiation, created lazily when the deal is struck. Each tx-hash slot is
// populated exactly once, in state-machine order, and never overwritten.
type Escrow struct {
	ID              string    `json:"id"`
	NegotiationID   string    `json:"negotiation_id"`
	ContractAddress string    `json:"contract_address"`
	ItemID          string    `json:"item_id"`
	CreateTx        *string   `json:"create_tx"`
	DepositTx       *string   `json:"deposit_tx"`
	ConfirmTx       *string   `json:"confirm_tx"`
	FlagTx          *string   `json:"flag_tx"`
	UpdatePriceTx   *string   `json:"update_price_tx"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EventType classifies an AppEvent for feed rendering and filtering.
type EventType string

const (
	EventAgentProcessing    EventType = "agent_processing"
	EventBuyerProposes      EventType = "buyer_proposes"
	EventSellerCounters     EventType = "seller_counters"
	EventDealAgreed         EventType = "deal_agreed"
	EventHumanInputRequired EventType = "human_input_required"
	EventHumanResponded     EventType = "human_responded"
	EventMatchAccepted      EventType = "match_accepted"
	EventEscrowCreated      EventType = "escrow_created"
	EventEscrowFunded       EventType = "escrow_funded"
	EventEscrowConfirmed    EventType = "escrow_confirmed"
	EventEscrowFlagged      EventType = "escrow_flagged"
	EventEscrowResolved     EventType = "escrow_resolved"
)

// AppEvent is a loosely-typed notification record. It is not authoritative
// state (always derivable from negotiation/message/escrow rows) but it is
// written atomically alongside them so the activity feed never drifts.
// Seq is a monotone cursor for the polling fallback.
type AppEvent struct {
	ID            string                 `json:"id"`
	Seq           int64                  `json:"seq"`
	Type          EventType              `json:"type"`
	NegotiationID string                 `json:"negotiation_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Delta is the real-time payload pushed to subscribers after a state change.
type Delta struct {
	Type        string           `json:"type"` // always "update"
	Negotiation NegotiationShape `json:"negotiation"`
	Message     *Message         `json:"message,omitempty"`
}

// NegotiationShape is the wire subset of a negotiation included in deltas.
type NegotiationShape struct {
	ID          string           `json:"id"`
	State       NegotiationState `json:"state"`
	Ball        Ball             `json:"ball"`
	AgreedPrice *float64         `json:"agreed_price"`
}

// Snapshot returns the wire shape of a negotiation.
func (n *Negotiation) Snapshot() NegotiationShape {
	return NegotiationShape{
		ID:          n.ID,
		State:       n.State,
		Ball:        n.Ball,
		AgreedPrice: n.AgreedPrice,
	}
}
