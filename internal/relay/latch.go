// Package relay provides the single-writer/single-reader latest-value
// exchange between the simulation worker and its consumer. It is a
// single slot, not a queue: a new value overwrites an unread one, so a
// slow consumer never back-pressures the producer.
package relay

import "sync/atomic"

type Latch[T any] struct {
	slot atomic.Pointer[T]
}

func New[T any]() *Latch[T] {
	return &Latch[T]{}
}

// Publish stores v as the latest value. Never blocks.
func (l *Latch[T]) Publish(v *T) {
	l.slot.Store(v)
}

// TakeLatest removes and returns the latest value, or false if none has
// been published since the last take.
func (l *Latch[T]) TakeLatest() (*T, bool) {
	v := l.slot.Swap(nil)
	return v, v != nil
}

// Peek returns the latest value without consuming it.
func (l *Latch[T]) Peek() (*T, bool) {
	v := l.slot.Load()
	return v, v != nil
}
