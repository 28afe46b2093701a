// Package events provides a small generic publish-subscribe bus used to fan
// out storage changes and store value updates.
package events

import "sync"

const subBufferSize = 16

// Bus is a non-blocking publish-subscribe bus.
// Publishers never block: when a subscriber's buffer is full its oldest
// pending event is dropped to make room, so the newest event always arrives.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[string]*subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	ch   chan T
	keep func(T) bool
}

// NewBus creates a new event bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{
		subs: make(map[string]*subscriber[T]),
	}
}

// Subscribe creates a subscription with the given ID.
// Subscribing twice with the same ID replaces (and closes) the earlier channel,
// so a re-registered ID never receives duplicate deliveries.
// Subscribing to a closed bus returns an already closed channel.
func (b *Bus[T]) Subscribe(id string) <-chan T {
	return b.SubscribeFunc(id, nil)
}

// SubscribeFunc is Subscribe with a filter: only events for which keep
// returns true are queued, so unrelated events never use up the buffer.
// A nil keep accepts everything.
func (b *Bus[T]) SubscribeFunc(id string, keep func(T) bool) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, subBufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	if old, ok := b.subs[id]; ok {
		close(old.ch)
	}
	b.subs[id] = &subscriber[T]{ch: ch, keep: keep}
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs are
// ignored, so calling it twice is safe.
func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish sends v to every subscriber whose filter accepts it.
// If a subscriber's channel is full, its oldest queued event is discarded.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.keep != nil && !sub.keep(v) {
			continue
		}
		select {
		case sub.ch <- v:
			continue
		default:
		}
		// Only Publish sends, and it holds mu, so after one receive there is room.
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- v
	}
}

// Close unsubscribes everyone. Later Publish calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
