// Package storage implements the key-value areas that back a store.
//
// Two kinds of area exist. Durable areas (FileArea, SQLiteArea) survive
// process restarts, are shared by every context that opens the same origin,
// and report writes made by other contexts as Change events. SessionScoped
// areas (MemArea) live only as long as the process and never emit changes.
//
// All Area methods are synchronous.
package storage

import (
	"errors"
	"fmt"
)

// Kind is the persistence scope of an area.
type Kind int

const (
	// Durable areas survive restarts and are visible to all contexts of an origin.
	Durable Kind = iota
	// SessionScoped areas are private to one context and vanish with it.
	SessionScoped
)

func (k Kind) String() string {
	switch k {
	case Durable:
		return "durable"
	case SessionScoped:
		return "session"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the names produced by Kind.String, plus "local" as an
// alias for durable.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "durable", "local":
		return Durable, nil
	case "session":
		return SessionScoped, nil
	default:
		return 0, fmt.Errorf("storage: unknown area %q", s)
	}
}

// DefaultMaxBytes is the per-area quota used when none is configured.
const DefaultMaxBytes int64 = 5 << 20

var (
	ErrEmptyKey      = errors.New("storage: empty key")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	ErrUnavailable   = errors.New("storage: area unavailable")
	ErrClosed        = errors.New("storage: area closed")
)

// Area is a named, synchronous key-value area.
type Area interface {
	Kind() Kind
	// GetItem returns the raw text for key and whether it exists.
	GetItem(key string) (string, bool, error)
	// SetItem stores text under key. It may fail with ErrQuotaExceeded.
	SetItem(key, value string) error
	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(key string) error
	Close() error
}

// Watched is a Durable area that reports changes made by other contexts.
type Watched interface {
	Area
	Subscribe(id string) <-chan Change
	// SubscribeKey is Subscribe limited to changes of one key. Changes to
	// other keys never displace it, and the latest change is always kept.
	SubscribeKey(id, key string) <-chan Change
	Unsubscribe(id string)
}

func keyFilter(key string) func(Change) bool {
	return func(c Change) bool { return c.Key == key }
}

// Change describes a write observed in a Durable area. A nil NewValue means
// the key was removed.
type Change struct {
	Key      string
	OldValue *string
	NewValue *string
	// Origin identifies the writing area handle when the backend records it.
	Origin string
}

// Removed reports whether the change deleted the key.
func (c Change) Removed() bool { return c.NewValue == nil }

func validKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func strPtr(s string) *string { return &s }
