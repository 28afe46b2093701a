package store

import (
	"log/slog"

	"github.com/micro-nova/statekit/internal/codec"
)

// ValueOrUpdater is either a concrete value or a function deriving the next
// value from the previous one. Build it with Value or Update.
type ValueOrUpdater[T any] struct {
	value  T
	update func(prev T) T
}

// Value wraps a concrete value.
func Value[T any](v T) ValueOrUpdater[T] { return ValueOrUpdater[T]{value: v} }

// Update wraps a function applied to the last in-memory value.
func Update[T any](fn func(prev T) T) ValueOrUpdater[T] { return ValueOrUpdater[T]{update: fn} }

func (v ValueOrUpdater[T]) resolve(prev T) T {
	if v.update != nil {
		return v.update(prev)
	}
	return v.value
}

// Options configures a Store. Zero fields take the defaults below.
type Options[T any] struct {
	// Logger receives persistence faults. Default: slog.Default().
	Logger *slog.Logger
	// Equal decides whether an external value is already current.
	// Default: compare canonical encodings.
	Equal func(a, b T) bool
	// DisableSync turns off following other contexts. Default: false.
	DisableSync bool
}

// Option adjusts Options.
type Option[T any] func(*Options[T])

// WithLogger sets the logger.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(o *Options[T]) { o.Logger = l }
}

// WithEqual sets the equality used to drop redundant external changes.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(o *Options[T]) { o.Equal = eq }
}

// WithoutSync disables cross-context updates.
func WithoutSync[T any]() Option[T] {
	return func(o *Options[T]) { o.DisableSync = true }
}

func resolveOptions[T any](opts []Option[T]) Options[T] {
	var o Options[T]
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Equal == nil {
		o.Equal = encodedEqual[T]
	}
	return o
}

func encodedEqual[T any](a, b T) bool {
	ea, err := codec.Encode(a)
	if err != nil {
		return false
	}
	eb, err := codec.Encode(b)
	if err != nil {
		return false
	}
	return ea == eb
}
