// Package negotiation implements the turn-based bargaining engine: prompt
// construction, step orchestration, agreement detection, and the lifecycle
// controller that owns all persistence side effects of a turn.
package negotiation

import (
	"encoding/json"
	"strings"

	"github.com/haggle/backend/internal/core"
)

// fallbackStatus is shown when the model's output could not be parsed.
const fallbackStatus = "Processing response..."

// ParseAgentResponse turns raw model output into a typed ParsedMessage. It
// never fails: unparseable output degrades to a message carrying the raw text
// so the negotiation keeps moving with a visible, auditable turn.
//
// The one hard rule enforced here: user_prompt.target is always overwritten
// with the value implied by the acting role. The model (or anything injected
// into it) never gets to route a question to the counterparty's human.
func ParseAgentResponse(raw string, role core.Role) core.ParsedMessage {
	cleaned := stripCodeFence(raw)

	var loose struct {
		Answer        interface{} `json:"answer"`
		StatusMessage interface{} `json:"status_message"`
		PriceProposal interface{} `json:"price_proposal"`
		Concessions   interface{} `json:"concessions"`
		UserPrompt    *struct {
			Target   interface{} `json:"target"`
			Question interface{} `json:"question"`
			Choices  interface{} `json:"choices"`
		} `json:"user_prompt"`
	}
	if err := json.Unmarshal([]byte(cleaned), &loose); err != nil {
		return core.ParsedMessage{
			Answer:        raw,
			StatusMessage: fallbackStatus,
			Concessions:   []string{},
		}
	}

	parsed := core.ParsedMessage{
		Answer:        coerceString(loose.Answer),
		StatusMessage: coerceString(loose.StatusMessage),
		PriceProposal: coerceNumber(loose.PriceProposal),
		Concessions:   coerceStrings(loose.Concessions),
	}
	if parsed.StatusMessage == "" {
		parsed.StatusMessage = fallbackStatus
	}

	if loose.UserPrompt != nil {
		question := coerceString(loose.UserPrompt.Question)
		if question != "" {
			parsed.UserPrompt = &core.UserPrompt{
				Target:   promptTargetFor(role),
				Question: question,
				Choices:  coerceStrings(loose.UserPrompt.Choices),
			}
		}
	}
	return parsed
}

// promptTargetFor maps an acting role to the only human it may address.
func promptTargetFor(role core.Role) core.Ball {
	if role == core.RoleSellerAgent {
		return core.BallSeller
	}
	return core.BallBuyer
}

// stripCodeFence removes a markdown ```json ... ``` wrapper if present.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func coerceString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// coerceNumber nulls anything that is not a JSON number. Strings like "850"
// are rejected on purpose: a proposal the model could not emit as a number is
// not trusted as one.
func coerceNumber(v interface{}) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

func coerceStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
