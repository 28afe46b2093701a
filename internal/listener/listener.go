// Package listener reconciles a store with writes made to the same key by
// other contexts sharing a Durable area.
package listener

import (
	"sync"

	"github.com/google/uuid"

	"github.com/micro-nova/statekit/internal/storage"
)

// Source delivers changes made by other contexts, one key per subscription.
// storage.FileArea and storage.SQLiteArea implement it.
type Source interface {
	SubscribeKey(id, key string) <-chan storage.Change
	Unsubscribe(id string)
}

// Subscription is one registration of a callback for one key. It is owned by
// whoever called Listen and must be closed by them.
type Subscription struct {
	id   string
	key  string
	src  Source
	once sync.Once
	done chan struct{}
}

// Listen registers apply for changes to key. apply receives the new raw text
// of every external write; removals (nil new value) are not delivered.
// apply runs on the subscription's goroutine.
func Listen(src Source, key string, apply func(raw string)) *Subscription {
	s := &Subscription{
		id:   uuid.NewString(),
		key:  key,
		src:  src,
		done: make(chan struct{}),
	}
	ch := src.SubscribeKey(s.id, key)
	go s.run(ch, apply)
	return s
}

// ID returns the identifier used with the source.
func (s *Subscription) ID() string { return s.id }

// Key returns the watched key.
func (s *Subscription) Key() string { return s.key }

func (s *Subscription) run(ch <-chan storage.Change, apply func(string)) {
	defer close(s.done)
	for c := range ch {
		if c.Key != s.key || c.NewValue == nil {
			continue
		}
		apply(*c.NewValue)
	}
}

// Close unsubscribes and waits for any in-progress callback to return.
// It is safe to call more than once. It must not be called from inside the
// callback.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.src.Unsubscribe(s.id)
	})
	<-s.done
}

// Done is closed once the subscription has stopped delivering, either after
// Close or because the source shut down.
func (s *Subscription) Done() <-chan struct{} { return s.done }
