// Package pubsub fans pipeline outcome events out to in-process listeners
// such as the Slack and Discord notifiers. Delivery is best effort: a
// listener that falls behind misses events instead of stalling the fix
// consumer.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventType describes the kind of event.
type EventType string

// Fix job outcomes published by the fix consumer. Unchanged fixes are
// published as Skipped; re-enqueued jobs publish nothing.
const (
	Delivered EventType = "delivered"
	Rejected  EventType = "rejected"
	Dropped   EventType = "dropped"
	Skipped   EventType = "skipped"
)

// Event wraps a typed payload with an event type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// subscriberBufferSize is the channel buffer size for each subscriber.
const subscriberBufferSize = 64

// Broker is a generic, thread-safe publish/subscribe broker.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[chan Event[T]]struct{}
	missed atomic.Uint64
}

// NewBroker creates a new Broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[chan Event[T]]struct{}),
	}
}

// Subscribe creates a new subscription. The returned channel receives events
// until the provided context is cancelled, at which point the channel is
// closed and the subscription is removed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], subscriberBufferSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish broadcasts an event to all active subscribers. If a subscriber's
// buffer is full, the event is dropped for that subscriber and counted in
// Missed.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	evt := Event[T]{Type: eventType, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.missed.Add(1)
		}
	}
}

// Missed returns how many deliveries were dropped because a subscriber's
// buffer was full.
func (b *Broker[T]) Missed() uint64 {
	return b.missed.Load()
}
