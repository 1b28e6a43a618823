// Package realtime pushes negotiation state deltas to live subscribers. The
// fan-out is best-effort: a slow or disconnected subscriber misses deltas and
// is expected to catch up through the durable event log.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

const subscriberBuffer = 64

// Fanout is an in-process registry of subscriber channels keyed by
// negotiation id. Payloads are serialized once and delivered to every open
// channel with a non-blocking send.
type Fanout struct {
	mu     sync.RWMutex
	subs   map[string][]chan []byte // negotiation id -> open channels
	relay  Relay                    // optional cross-pod transport
	logger *log.Logger
}

// Relay forwards published deltas to subscribers on other processes. Optional.
type Relay interface {
	Forward(negotiationID string, payload []byte)
}

// NewFanout creates an empty registry.
func NewFanout() *Fanout {
	return &Fanout{
		subs:   make(map[string][]chan []byte),
		logger: log.New(log.Writer(), "[FANOUT] ", log.LstdFlags),
	}
}

// SetRelay attaches a cross-pod relay. Deltas keep flowing locally when the
// relay is absent or failing.
func (f *Fanout) SetRelay(r Relay) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relay = r
}

// Subscribe opens a channel that receives every delta for one negotiation.
func (f *Fanout) Subscribe(negotiationID string) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan []byte, subscriberBuffer)
	f.subs[negotiationID] = append(f.subs[negotiationID], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel. The slice is rebuilt
// rather than compacted in place so an in-flight publish never observes the
// mutation, and the close happens under the same lock the publish path reads
// under, so a send on the closed channel is impossible.
func (f *Fanout) Unsubscribe(negotiationID string, ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subs[negotiationID]
	filtered := make([]chan []byte, 0, len(subs))
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		delete(f.subs, negotiationID)
	} else {
		f.subs[negotiationID] = filtered
	}
	close(ch)
}

// Publish serializes the payload and delivers it to every subscriber of the
// negotiation, plus the relay when one is attached. Full subscriber buffers
// are skipped, never blocked on.
func (f *Fanout) Publish(negotiationID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Printf("drop undeliverable payload for %s: %v", negotiationID, err)
		return
	}
	f.publishRaw(negotiationID, data, true)
}

// publishRaw delivers pre-serialized bytes. forward=false for deltas arriving
// FROM the relay, so they are not echoed back out.
//
// Sends happen under the read lock. They are non-blocking, so holding it is
// cheap, and it excludes Unsubscribe from closing a channel mid-delivery.
// Only the relay call, which may hit the network, runs outside the lock.
func (f *Fanout) publishRaw(negotiationID string, data []byte, forward bool) {
	f.mu.RLock()
	for _, ch := range f.subs[negotiationID] {
		select {
		case ch <- data:
		default:
			// Subscriber too slow; the event log is the durable path.
		}
	}
	relay := f.relay
	f.mu.RUnlock()

	if forward && relay != nil {
		relay.Forward(negotiationID, data)
	}
}

// Deliver injects a delta received from another process.
func (f *Fanout) Deliver(negotiationID string, data []byte) {
	f.publishRaw(negotiationID, data, false)
}

// SubscriberCount reports open channels for one negotiation.
func (f *Fanout) SubscriberCount(negotiationID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[negotiationID])
}
