package core

import "errors"

// Domain error taxonomy. Handlers map these onto HTTP statuses; controllers
// return them wrapped with context via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound: referenced negotiation/listing/agent does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: operation not valid for the current negotiation or
	// escrow state. Callers must re-fetch state, not retry.
	ErrInvalidState = errors.New("invalid state")

	// ErrAwaitingHuman: the ball is with a human; the remedy is submitting a
	// human response, not retrying the step.
	ErrAwaitingHuman = errors.New("awaiting human input")

	// ErrConflict: a step for this negotiation is already in flight.
	ErrConflict = errors.New("step already in progress")

	// ErrBackendFailure: the reasoning backend failed at the transport level
	// (network, auth, timeout). The step aborts with nothing persisted.
	ErrBackendFailure = errors.New("reasoning backend failure")

	// ErrValidation: malformed external input, rejected before any state is
	// touched.
	ErrValidation = errors.New("validation error")
)
