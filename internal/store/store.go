// Package store implements a reactive value mirrored into a storage area.
//
// A Store owns one (key, value) pair. It reads the persisted value once at
// construction, writes every change back synchronously, and, for Durable
// areas that report external changes, adopts values written to the same key
// by other contexts. Storage faults never reach the caller: the in-memory
// value keeps serving and the fault is available from Err.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/micro-nova/statekit/internal/codec"
	"github.com/micro-nova/statekit/internal/events"
	"github.com/micro-nova/statekit/internal/listener"
	"github.com/micro-nova/statekit/internal/storage"
)

// PersistenceWriteError records a failed attempt to persist or remove a value.
type PersistenceWriteError struct {
	Key string
	Op  string // "set" or "remove"
	Err error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }

// Store is a reactive value of type T persisted under one key.
type Store[T any] struct {
	key     string
	initial T
	area    storage.Area
	opts    Options[T]
	log     *slog.Logger

	mu     sync.Mutex
	value  T
	err    error
	closed bool

	sub       *listener.Subscription
	bus       *events.Bus[T]
	closeOnce sync.Once
}

// New creates a store for key in area, starting from the persisted value or
// initial when none can be read. A nil area is treated as unavailable storage:
// the store works from memory and reports storage.ErrUnavailable from Err
// after the first write.
func New[T any](key string, initial T, area storage.Area, opts ...Option[T]) (*Store[T], error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}
	o := resolveOptions(opts)
	s := &Store[T]{
		key:     key,
		initial: initial,
		area:    area,
		opts:    o,
		log:     o.Logger.With("key", key),
		bus:     events.NewBus[T](),
	}
	s.value = read(s.log, area, key, initial)

	if area != nil && area.Kind() == storage.Durable && !o.DisableSync {
		if src, ok := area.(listener.Source); ok {
			s.sub = listener.Listen(src, key, s.adopt)
		}
	}
	return s, nil
}

// Read returns the value stored under key, or initial when the key is absent,
// its text does not decode, or the area is unavailable. It never fails.
func Read[T any](area storage.Area, key string, initial T) T {
	return read(slog.Default().With("key", key), area, key, initial)
}

func read[T any](log *slog.Logger, area storage.Area, key string, initial T) T {
	if area == nil {
		return initial
	}
	raw, ok, err := area.GetItem(key)
	if err != nil {
		log.Warn("store: read failed, using initial value", "err", err)
		return initial
	}
	if !ok {
		return initial
	}
	v, err := codec.Decode[T](raw)
	if err != nil {
		log.Warn("store: undecodable entry, using initial value", "err", err)
		return initial
	}
	return v
}

// Key returns the store key.
func (s *Store[T]) Key() string { return s.key }

// Value returns the current in-memory value.
func (s *Store[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Err returns the last persistence fault, or nil once a write succeeds.
func (s *Store[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Set replaces the value (or derives it from the current one) and persists it.
// The in-memory update always stands; persistence faults go to Err.
func (s *Store[T]) Set(v ValueOrUpdater[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := v.resolve(s.value)
	s.value = next
	if !s.closed {
		s.bus.Publish(next)
	}
	s.err = s.persist(next)
}

func (s *Store[T]) persist(v T) error {
	if s.area == nil {
		return &PersistenceWriteError{Key: s.key, Op: "set", Err: storage.ErrUnavailable}
	}
	raw, err := codec.Encode(v)
	if err == nil {
		err = s.area.SetItem(s.key, raw)
	}
	if err != nil {
		s.log.Error("store: failed to persist value", "area", s.area.Kind(), "err", err)
		return &PersistenceWriteError{Key: s.key, Op: "set", Err: err}
	}
	return nil
}

// Remove deletes the persisted entry and resets the value to the initial
// value given to New.
func (s *Store[T]) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = nil
	if s.area == nil {
		s.err = &PersistenceWriteError{Key: s.key, Op: "remove", Err: storage.ErrUnavailable}
	} else if err := s.area.RemoveItem(s.key); err != nil {
		s.log.Error("store: failed to remove value", "area", s.area.Kind(), "err", err)
		s.err = &PersistenceWriteError{Key: s.key, Op: "remove", Err: err}
	}
	s.value = s.initial
	if !s.closed {
		s.bus.Publish(s.initial)
	}
}

// adopt applies a value written by another context. Undecodable text is
// ignored, and a value equal to the current one changes nothing.
func (s *Store[T]) adopt(raw string) {
	v, err := codec.Decode[T](raw)
	if err != nil {
		s.log.Warn("store: ignoring undecodable external change", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.opts.Equal(s.value, v) {
		return
	}
	s.value = v
	s.bus.Publish(v)
	s.log.Debug("store: adopted external change")
}

// Subscribe returns a channel receiving every new value, whether set locally,
// reset by Remove or adopted from another context. Slow readers miss
// intermediate values but always receive the latest one.
func (s *Store[T]) Subscribe(id string) <-chan T { return s.bus.Subscribe(id) }

// Unsubscribe removes a value subscription.
func (s *Store[T]) Unsubscribe(id string) { s.bus.Unsubscribe(id) }

// Syncing reports whether the store follows changes from other contexts.
func (s *Store[T]) Syncing() bool { return s.sub != nil }

// Close stops following other contexts and closes value subscriptions. The
// area itself is left open. Close is safe to call more than once.
func (s *Store[T]) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			s.sub.Close()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.bus.Close()
	})
}

// IsPersistenceError reports whether err came from a failed write or removal.
func IsPersistenceError(err error) bool {
	var pe *PersistenceWriteError
	return errors.As(err, &pe)
}
