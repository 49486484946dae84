// Package observable provides a value holder that broadcasts changes to
// subscribers.
//
// A Value has a single writer and any number of readers. Delivery is
// conflated: each subscriber channel holds at most one pending value, and a
// newer Set replaces a value the reader has not consumed yet.
package observable

import "sync"

// Reader is the read-only side of a Value, handed to consumers.
type Reader[T any] interface {
	Get() T
	Subscribe() (<-chan T, func())
}

// Value holds the current state of T and fans it out to subscribers.
type Value[T any] struct {
	mu     sync.RWMutex
	v      T
	subs   map[int]chan T
	nextID int
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		v:    initial,
		subs: make(map[int]chan T),
	}
}

// Get returns the current value.
func (o *Value[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.v
}

// Set replaces the current value and notifies every subscriber.
func (o *Value[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.v = v
	for _, ch := range o.subs {
		offer(ch, v)
	}
}

// Update applies fn to the current value under the write lock.
func (o *Value[T]) Update(fn func(T) T) T {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.v = fn(o.v)
	for _, ch := range o.subs {
		offer(ch, o.v)
	}
	return o.v
}

// Subscribe returns a channel that immediately yields the current value and
// then every later one. The returned cancel func closes the channel; it is
// safe to call more than once.
func (o *Value[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	ch := make(chan T, 1)
	ch <- o.v
	o.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// offer replaces any pending value with v. Callers hold the write lock, so
// the send after draining never blocks.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
