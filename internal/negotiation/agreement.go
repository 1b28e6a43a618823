package negotiation

import "github.com/haggle/backend/internal/core"

// DetectAgreement decides whether the newest proposal closes the deal.
//
// The asymmetry is deliberate: whoever moves second into an overlapping range
// accepts the counterparty's standing offer, not their own number. A buyer
// bidding 900 against a seller standing at 850 agrees at 850.
func DetectAgreement(parsed core.ParsedMessage, role core.Role, history []core.Message) (bool, *float64) {
	if parsed.PriceProposal == nil {
		return false, nil
	}

	counterpart := core.RoleSellerAgent
	if role == core.RoleSellerAgent {
		counterpart = core.RoleBuyerAgent
	}
	theirs := lastPriceBy(history, counterpart)
	if theirs == nil {
		return false, nil
	}

	newPrice := *parsed.PriceProposal
	if role == core.RoleBuyerAgent {
		if newPrice >= *theirs {
			price := *theirs
			return true, &price
		}
		return false, nil
	}
	if newPrice <= *theirs {
		price := *theirs
		return true, &price
	}
	return false, nil
}

// lastPriceBy returns the most recent price proposal made by the given role,
// or nil if that side has never named a number.
func lastPriceBy(history []core.Message, role core.Role) *float64 {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != role || m.Parsed.PriceProposal == nil {
			continue
		}
		price := *m.Parsed.PriceProposal
		return &price
	}
	return nil
}

// countTurnsBy returns how many turns the given role has already taken.
func countTurnsBy(history []core.Message, role core.Role) int {
	n := 0
	for _, m := range history {
		if m.Role == role {
			n++
		}
	}
	return n
}
