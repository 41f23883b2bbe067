// Package eventbus is the per-session event fabric: a typed
// publish/subscribe queue carrying policy, retrieval, and control events
// between a session's subsystems.
//
// Each session owns exactly one Bus. Subscriptions are registered by event
// type (or as wildcards) and are released when the bus closes with the
// session. Publishing never blocks: a slow subscriber's oldest events are
// dropped, so event delivery can never stall arbitration.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the open-schema record carried on the fabric.
type Event struct {
	EventID   string         `json:"event_id"`
	SessionID string         `json:"session_id"`
	TMS       int64          `json:"t_ms"`
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// defaultQueueDepth is the per-subscription buffer. Old events are dropped
// when a subscriber falls this far behind.
const defaultQueueDepth = 64

// Subscription is one subscriber's bounded event queue.
type Subscription struct {
	bus   *Bus
	types map[string]struct{} // empty = wildcard
	ch    chan Event
	once  sync.Once
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close releases the subscription and closes its channel. Safe to call more
// than once and concurrently with Publish.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// wants reports whether the subscription should receive events of type typ.
func (s *Subscription) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

// Bus is a per-session event fabric. All methods are safe for concurrent
// use.
type Bus struct {
	sessionID string

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// New creates a bus for the given session.
func New(sessionID string) *Bus {
	return &Bus{sessionID: sessionID}
}

// Subscribe registers a subscriber for the given event types. With no types
// the subscription is a wildcard receiving every event. The returned
// subscription must be closed when no longer needed (closing the bus closes
// it too).
func (b *Bus) Subscribe(types ...string) *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, defaultQueueDepth),
	}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish constructs an event and fans it out to every matching subscriber.
// Delivery is non-blocking: when a subscriber's queue is full its oldest
// event is dropped to make room. Returns the published event.
func (b *Bus) Publish(source, typ string, payload map[string]any) Event {
	evt := Event{
		EventID:   uuid.NewString(),
		SessionID: b.sessionID,
		TMS:       time.Now().UnixMilli(),
		Source:    source,
		Type:      typ,
		Payload:   payload,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return evt
	}
	for _, sub := range b.subs {
		if !sub.wants(typ) {
			continue
		}
		for {
			select {
			case sub.ch <- evt:
			default:
				// Queue full: shed the oldest event and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
	return evt
}

// Close releases all subscriptions and closes their channels. Publishing
// after Close is a no-op. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = nil
}

// unsubscribe removes sub from the bus and closes its channel.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
