package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/haggle/backend/internal/core"
)

// DemoSource is the deterministic stand-in for the reasoning backend, used
// when no model is configured. It emits the same JSON wire shape the real
// model is instructed to produce, so the orchestrator's parse → agreement →
// ball path runs unchanged.
type DemoSource struct {
	octx *Context
}

// NewDemoSource builds a generator bound to the turn's context.
func NewDemoSource(octx *Context) DemoSource {
	return DemoSource{octx: octx}
}

// Generate ignores the prompt; the rules below are a behavioral mirror of
// what the prompt asks a real model to do.
func (d DemoSource) Generate(_ context.Context, _ string) (string, error) {
	if d.octx.Negotiation.Ball == core.BallBuyer {
		return d.buyerTurn()
	}
	return d.sellerTurn()
}

var discoveryQuestions = []string{
	"Before we talk numbers — can you tell me about the item's history? Any past repairs or replaced parts?",
	"Why is the seller letting this go? And are there any issues that aren't obvious from the listing?",
	"How old is it, and how heavily has it been used day to day?",
}

func (d DemoSource) buyerTurn() (string, error) {
	history := d.octx.Messages
	turn := countTurnsBy(history, core.RoleBuyerAgent) + 1
	ask := d.octx.Listing.AskPrice
	maxPrice := d.octx.BuyAgent.MaxPrice

	// Turns 1-3: discovery questions, no price.
	if turn <= len(discoveryQuestions) {
		return marshalDemo(demoPayload{
			Answer:        discoveryQuestions[turn-1],
			StatusMessage: "Asking about the item",
		})
	}

	lastSeller := lastPriceBy(history, core.RoleSellerAgent)
	var offer float64
	var answer string
	if lastSeller == nil {
		offer = math.Round(ask * 0.75)
		answer = fmt.Sprintf(
			"Based on what I've learned about the condition, I'd like to open at $%.0f.", offer)
	} else {
		offer = math.Min(math.Round(*lastSeller*1.05), maxPrice)
		answer = fmt.Sprintf(
			"I can move up a little. Given your position at $%.0f, how about $%.0f?", *lastSeller, offer)
	}
	// The buyer's budget is a hard ceiling by construction.
	offer = math.Min(offer, maxPrice)

	return marshalDemo(demoPayload{
		Answer:        answer,
		StatusMessage: fmt.Sprintf("Offering $%.0f", offer),
		PriceProposal: &offer,
	})
}

func (d DemoSource) sellerTurn() (string, error) {
	history := d.octx.Messages
	ask := d.octx.Listing.AskPrice
	var minPrice *float64
	if d.octx.SellAgent != nil {
		minPrice = d.octx.SellAgent.MinPrice
	}
	if minPrice == nil {
		// A floor the human typed in response to an earlier escalation counts.
		minPrice = humanStatedMin(history)
	}
	lastBuyer := lastPriceBy(history, core.RoleBuyerAgent)

	// No buyer price yet: hold the line at ask.
	if lastBuyer == nil {
		price := ask
		return marshalDemo(demoPayload{
			Answer:        fmt.Sprintf("The listing is priced at $%.0f, which reflects its condition.", ask),
			StatusMessage: fmt.Sprintf("Holding at $%.0f", ask),
			PriceProposal: &price,
		})
	}

	// Below-ask offer with no floor set: the seller's human has to name one.
	if minPrice == nil && *lastBuyer < ask {
		return marshalDemo(demoPayload{
			Answer:        "I've received an offer below the ask price and need your guidance before responding.",
			StatusMessage: "Checking minimum with seller",
			UserPrompt: &core.UserPrompt{
				Target:   core.BallSeller,
				Question: fmt.Sprintf("The buyer offered $%.0f. What is the minimum price you would accept?", *lastBuyer),
				Choices:  []string{},
			},
		})
	}

	var counter float64
	var answer string
	if minPrice != nil && *lastBuyer < *minPrice {
		counter = *minPrice
		answer = fmt.Sprintf("I can't go as low as $%.0f, but I could do $%.0f.", *lastBuyer, counter)
	} else {
		// Midpoint concession between the buyer's offer and ask.
		counter = *lastBuyer + (ask-*lastBuyer)*0.5
		answer = fmt.Sprintf("Let's meet partway — $%.0f and it's yours.", counter)
	}

	return marshalDemo(demoPayload{
		Answer:        answer,
		StatusMessage: fmt.Sprintf("Countering at $%.0f", counter),
		PriceProposal: &counter,
	})
}

// humanStatedMin extracts a dollar figure from the most recent human reply.
func humanStatedMin(history []core.Message) *float64 {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != core.RoleHuman {
			continue
		}
		for _, tok := range strings.Fields(history[i].Parsed.Answer) {
			tok = strings.Trim(tok, "$,.!")
			if f, err := strconv.ParseFloat(tok, 64); err == nil && f > 0 {
				return &f
			}
		}
		return nil
	}
	return nil
}

// demoPayload matches the wire contract the prompts demand from the model.
type demoPayload struct {
	Answer        string           `json:"answer"`
	StatusMessage string           `json:"status_message"`
	PriceProposal *float64         `json:"price_proposal"`
	Concessions   []string         `json:"concessions"`
	UserPrompt    *core.UserPrompt `json:"user_prompt"`
}

func marshalDemo(p demoPayload) (string, error) {
	if p.Concessions == nil {
		p.Concessions = []string{}
	}
	out, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ RawSource = DemoSource{}
