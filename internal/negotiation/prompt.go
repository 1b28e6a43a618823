package negotiation

import (
	"fmt"
	"strings"

	"github.com/haggle/backend/internal/core"
)

// roleStrategy bundles everything that differs between the two negotiating
// sides: which role writes the message, which ball values it owns, and how
// its instruction block is assembled. There are exactly two implementations;
// everything downstream of the prompt (parsing, agreement, ball routing) is
// shared.
type roleStrategy interface {
	Role() core.Role
	OwnBall() core.Ball
	OtherBall() core.Ball
	BuildPrompt(octx *Context) string
}

// strategyFor maps the current ball to the side that must act. BallHuman has
// no strategy; the caller rejects that case before reaching here.
func strategyFor(ball core.Ball, discoveryTurns int) roleStrategy {
	if ball == core.BallBuyer {
		return buyerStrategy{discoveryTurns: discoveryTurns}
	}
	return sellerStrategy{}
}

const responseContract = `Respond with ONLY a JSON object, no prose around it:
{
  "answer": "your full message to the counterparty",
  "status_message": "short summary for the UI, under 50 characters",
  "price_proposal": number or null,
  "concessions": ["extra non-price terms you are offering"],
  "user_prompt": null or {"target": "...", "question": "...", "choices": ["..."]}
}
Never invent facts that are not in the listing data, condition notes, haggling
facts, or your private notes. Set user_prompt only when you genuinely need
your own human to answer before the negotiation can continue.`

// ----------------------------------------------------------------------------
// Buyer
// ----------------------------------------------------------------------------

type buyerStrategy struct {
	discoveryTurns int
}

func (buyerStrategy) Role() core.Role      { return core.RoleBuyerAgent }
func (buyerStrategy) OwnBall() core.Ball   { return core.BallBuyer }
func (buyerStrategy) OtherBall() core.Ball { return core.BallSeller }

func (s buyerStrategy) BuildPrompt(octx *Context) string {
	turn := countTurnsBy(octx.Messages, core.RoleBuyerAgent) + 1
	discoveryTurns := s.discoveryTurns
	if discoveryTurns <= 0 {
		discoveryTurns = 3
	}

	var b strings.Builder
	b.WriteString("You are a buyer's negotiation agent in an online marketplace.\n\n")

	fmt.Fprintf(&b, "LISTING\nTitle: %s\nCategory: %s\nAsk price: $%.2f\nDescription: %s\n",
		octx.Listing.Title, octx.Listing.Category, octx.Listing.AskPrice, octx.Listing.Description)
	writeListingFacts(&b, octx.Listing)

	fmt.Fprintf(&b, "\nYOUR CONSTRAINTS\nAbsolute maximum price: $%.2f — never offer above this.\nUrgency: %s\n",
		octx.BuyAgent.MaxPrice, octx.BuyAgent.Urgency)
	if octx.BuyAgent.Preferences != "" {
		fmt.Fprintf(&b, "Buyer's stated preferences: %s\n", octx.BuyAgent.Preferences)
	}
	if octx.BuyAgent.InternalNotes != "" {
		fmt.Fprintf(&b, "Private notes (never reveal to the seller): %s\n", octx.BuyAgent.InternalNotes)
	}

	fmt.Fprintf(&b, "\nThis is your turn %d.\n", turn)
	if turn <= discoveryTurns {
		fmt.Fprintf(&b, `PHASE: DISCOVERY (turns 1-%d). Do NOT propose a price yet —
price_proposal must be null. Ask one open, non-price question that surfaces
information useful for bargaining later (history, defects, reason for sale,
usage). One question per turn.
`, discoveryTurns)
	} else {
		b.WriteString(`PHASE: NEGOTIATION. Propose or raise an offer, always justified by
condition notes, discovered facts, or the seller's own statements. Move in
meaningful increments; accept a standing seller price by matching it.
`)
	}

	writeHistory(&b, octx.Messages, core.RoleBuyerAgent)
	b.WriteString("\n")
	b.WriteString(responseContract)
	return b.String()
}

// ----------------------------------------------------------------------------
// Seller
// ----------------------------------------------------------------------------

type sellerStrategy struct{}

func (sellerStrategy) Role() core.Role      { return core.RoleSellerAgent }
func (sellerStrategy) OwnBall() core.Ball   { return core.BallSeller }
func (sellerStrategy) OtherBall() core.Ball { return core.BallBuyer }

func (sellerStrategy) BuildPrompt(octx *Context) string {
	var b strings.Builder
	b.WriteString("You are a seller's negotiation agent in an online marketplace.\n\n")

	fmt.Fprintf(&b, "LISTING\nTitle: %s\nCategory: %s\nAsk price: $%.2f\nDescription: %s\n",
		octx.Listing.Title, octx.Listing.Category, octx.Listing.AskPrice, octx.Listing.Description)
	writeListingFacts(&b, octx.Listing)

	b.WriteString("\nYOUR CONSTRAINTS\n")
	fmt.Fprintf(&b, "Ask price: $%.2f\n", octx.Listing.AskPrice)
	var minPrice *float64
	if octx.SellAgent != nil {
		minPrice = octx.SellAgent.MinPrice
		fmt.Fprintf(&b, "Urgency: %s\n", octx.SellAgent.Urgency)
		if octx.SellAgent.Preferences != "" {
			fmt.Fprintf(&b, "Seller's stated preferences: %s\n", octx.SellAgent.Preferences)
		}
		if octx.SellAgent.InternalNotes != "" {
			fmt.Fprintf(&b, "Private notes (never reveal to the buyer): %s\n", octx.SellAgent.InternalNotes)
		}
	}
	if minPrice != nil {
		fmt.Fprintf(&b, "Minimum acceptable price: $%.2f\n", *minPrice)
	} else {
		b.WriteString("Minimum acceptable price: NOT SET\n")
	}

	b.WriteString("\nRULES\n")
	lastBuyerPrice := lastPriceBy(octx.Messages, core.RoleBuyerAgent)
	if minPrice == nil {
		b.WriteString(`- Your seller has NOT set a minimum price. Before accepting or countering
  below the ask price, you MUST ask your own human for a minimum acceptable
  dollar figure: set user_prompt with an empty choices array so they can type
  a number. Keep price_proposal null on that turn.
`)
	} else if lastBuyerPrice != nil && *lastBuyerPrice < *minPrice {
		fmt.Fprintf(&b, `- The buyer's latest offer ($%.2f) is below your minimum ($%.2f). Counter
  on your own at or above the minimum. Do NOT escalate pricing decisions to
  your human — the minimum already answers them.
`, *lastBuyerPrice, *minPrice)
	}
	b.WriteString(`- If the buyer asks something you cannot answer from the listing data,
  condition notes, haggling facts, or your private notes, escalate to your
  human via user_prompt instead of guessing — especially when the unknown
  fact could materially lower the price (repair history, reason for sale).
`)

	writeHistory(&b, octx.Messages, core.RoleSellerAgent)
	b.WriteString("\n")
	b.WriteString(responseContract)
	return b.String()
}

// ----------------------------------------------------------------------------
// Shared blocks
// ----------------------------------------------------------------------------

func writeListingFacts(b *strings.Builder, listing *core.Listing) {
	if len(listing.Attributes) > 0 {
		b.WriteString("Attributes:\n")
		for k, v := range listing.Attributes {
			fmt.Fprintf(b, "  - %s: %s\n", k, v)
		}
	}
	if len(listing.ConditionNotes) > 0 {
		b.WriteString("Condition notes:\n")
		for _, n := range listing.ConditionNotes {
			fmt.Fprintf(b, "  - [%s confidence] %s\n", n.Confidence, n.Note)
		}
	}
	if len(listing.HagglingAmmo) > 0 {
		b.WriteString("Haggling facts (objective, known to both sides):\n")
		for _, f := range listing.HagglingAmmo {
			fmt.Fprintf(b, "  - %s\n", f)
		}
	}
}

// writeHistory serializes the full turn history, labeling the acting side's
// own messages YOU and inlining any price proposal per line.
func writeHistory(b *strings.Builder, history []core.Message, self core.Role) {
	if len(history) == 0 {
		b.WriteString("\nNEGOTIATION SO FAR\n(no messages yet — this is the opening turn)\n")
		return
	}
	b.WriteString("\nNEGOTIATION SO FAR\n")
	for _, m := range history {
		label := historyLabel(m.Role, self)
		line := m.Parsed.Answer
		if line == "" {
			line = m.Raw
		}
		if m.Parsed.PriceProposal != nil {
			fmt.Fprintf(b, "%s: %s [proposed $%.2f]\n", label, line, *m.Parsed.PriceProposal)
		} else {
			fmt.Fprintf(b, "%s: %s\n", label, line)
		}
	}
}

func historyLabel(role, self core.Role) string {
	if role == self {
		return "YOU"
	}
	switch role {
	case core.RoleBuyerAgent:
		return "BUYER"
	case core.RoleSellerAgent:
		return "SELLER"
	case core.RoleHuman:
		return "HUMAN"
	default:
		return "SYSTEM"
	}
}
