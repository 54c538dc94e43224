// Package stream implements the gateway's bounded, lossy broadcast
// channel (spec.md §6, §9): dispatch latency must be independent of
// subscriber health, so a slow subscriber is dropped-from rather than
// allowed to block the publisher. Subscribers observe a Lagged signal
// carrying the number of events they missed.
package stream

import (
	"sync"
	"sync/atomic"
)

// Event is broadcast after every non-dry-run dispatch, already sanitized
// (provider bodies/headers and signed approval URLs stripped) by the
// caller before Publish.
type Event struct {
	Kind       string // "action_dispatched", "group_flush", ...
	Provider   string
	OutcomeTag string
	Details    map[string]interface{}
}

// Lagged is delivered in place of a dropped run of Events when a
// subscriber's buffer overflows.
type Lagged struct {
	Skipped int
}

// Subscription is a single subscriber's handle.
type Subscription struct {
	ch      chan Event
	skipped atomic.Int64
	bus     *Bus
	once    sync.Once
}

// Next blocks for the next Event, or returns a Lagged notice if one or
// more events were dropped since the last Next() call (checked first, so
// a subscriber always learns it lagged before resuming normal delivery).
// ok is false once the subscription is closed and drained.
func (s *Subscription) Next() (Event, Lagged, bool) {
	if n := s.skipped.Swap(0); n > 0 {
		return Event{}, Lagged{Skipped: int(n)}, true
	}
	e, ok := <-s.ch
	if !ok {
		// A concurrent overflow may have recorded a skip right as the
		// channel closed; surface it before reporting closure.
		if n := s.skipped.Swap(0); n > 0 {
			return Event{}, Lagged{Skipped: int(n)}, true
		}
		return Event{}, Lagged{}, false
	}
	return e, Lagged{}, true
}

// Close unsubscribes; Publish will stop delivering to this subscriber.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.unsubscribe(s) })
}

// Bus is the shared broadcast channel, fed by the dispatch pipeline and
// read by HTTP/WS gateways, CLI tails, etc. (transport out of scope here
// per spec.md §6).
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
}

// New creates a Bus whose per-subscriber buffer holds bufferSize events
// before the oldest is dropped in favor of the newest (spec.md §9
// "oldest-dropped for slow subscribers").
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{subscribers: make(map[*Subscription]struct{}), bufferSize: bufferSize}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, b.bufferSize), bus: b}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish is non-blocking: a subscriber whose buffer is full has its
// oldest buffered event dropped to make room for e, and accumulates a
// skipped count surfaced on that subscriber's next Next() call.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- e:
			continue
		default:
		}

		select {
		case <-sub.ch:
		default:
		}
		sub.skipped.Add(1)

		select {
		case sub.ch <- e:
		default:
			// Lost the race to a concurrent drain; the skip count above
			// already reflects the loss either way.
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
