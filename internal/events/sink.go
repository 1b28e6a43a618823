// Package events forwards the durable activity log to external consumers.
// The relational event table is authoritative; sinks here are best-effort
// mirrors for downstream systems (analytics, notifications).
package events

import (
	"context"

	"github.com/haggle/backend/internal/core"
)

// Sink receives every committed AppEvent. Implementations must not block the
// negotiation path; slow delivery happens on the sink's own goroutines.
type Sink interface {
	Emit(ctx context.Context, e *core.AppEvent)
	Close() error
}

// NopSink discards everything. Used when no external sink is configured.
type NopSink struct{}

func (NopSink) Emit(context.Context, *core.AppEvent) {}
func (NopSink) Close() error                         { return nil }

var _ Sink = NopSink{}
