// Package backend abstracts the reasoning model behind the negotiation
// agents. The orchestrator never talks to a model directly; it receives raw
// text from a Provider and enforces its own output contract downstream.
package backend

import "context"

// Provider generates one raw completion for a fully-built prompt.
//
// IsConfigured reports whether real calls can be made; the lifecycle
// controller checks it and falls back to the deterministic generator when the
// provider is not configured. The orchestrator itself never makes this choice.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	IsConfigured() bool
}
