// Package bus is the in-process publish/subscribe channel that lets panels
// react to each other without sharing a state owner.
//
// Delivery is synchronous: Publish returns after every subscriber that was
// registered when the publish began has run, in registration order. There is
// no history, no persistence and no payload validation; the payload schema
// of each topic is a convention between its publishers and subscribers.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/youmna-rabie/aegis/internal/metrics"
	"github.com/youmna-rabie/aegis/internal/types"
)

// Handler receives a published payload.
type Handler func(payload any)

// Unsubscribe removes a subscription. It is safe to call more than once and
// from inside a handler.
type Unsubscribe func()

// Bus is a many-to-many topic dispatcher. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[types.Topic][]*subscription
	logger *slog.Logger
}

type subscription struct {
	handler Handler
	active  atomic.Bool
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[types.Topic][]*subscription),
		logger: logger,
	}
}

// Subscribe registers h for topic and returns its deregistration func.
func (b *Bus) Subscribe(topic types.Topic, h Handler) Unsubscribe {
	sub := &subscription{handler: h}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return func() { b.remove(topic, sub) }
}

func (b *Bus) remove(topic types.Topic, sub *subscription) {
	if !sub.active.Swap(false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Build a fresh slice: in-flight publishes hold the old one.
	lst := b.subs[topic]
	out := make([]*subscription, 0, len(lst))
	for _, s := range lst {
		if s != sub {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = out
	}
}

// Publish delivers payload to the current subscribers of topic and returns
// how many handlers ran. A publish with no subscribers is dropped.
func (b *Bus) Publish(topic types.Topic, payload any) int {
	b.mu.RLock()
	snapshot := b.subs[topic]
	b.mu.RUnlock()

	metrics.IncBusPublished(string(topic))
	if len(snapshot) == 0 {
		metrics.IncBusDropped(string(topic))
		b.logger.Debug("bus publish without subscribers", "topic", topic)
		return 0
	}

	delivered := 0
	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		b.dispatch(topic, sub, payload)
		delivered++
	}
	return delivered
}

// dispatch runs one handler; a panicking handler is logged, counted as a
// drop and skipped so the remaining subscribers still see the message.
func (b *Bus) dispatch(topic types.Topic, sub *subscription, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncBusDropped(string(topic))
			b.logger.Error("bus handler panicked", "topic", topic, "error", rec)
		}
	}()
	sub.handler(payload)
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic types.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Handle adapts a typed callback to a Handler. Payloads of type T or *T are
// delivered; anything else is ignored.
func Handle[T any](fn func(T)) Handler {
	return func(payload any) {
		switch v := payload.(type) {
		case T:
			fn(v)
		case *T:
			if v != nil {
				fn(*v)
			}
		}
	}
}
