// Package syncbox provides a minimal mutex-guarded single-value container.
package syncbox

import "sync"

// Box guards one value of type T. Critical sections are a handful of
// instructions long, so callers may use a Box from any goroutine without
// worrying about holding it across blocking work: no method ever blocks
// while holding the lock except on the lock itself.
type Box[T any] struct {
	mu    sync.Mutex
	value T
}

// New returns a box holding initial.
func New[T any](initial T) *Box[T] {
	return &Box[T]{value: initial}
}

// Get returns the current value.
func (b *Box[T]) Get() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Set replaces the current value.
func (b *Box[T]) Set(v T) {
	b.mu.Lock()
	b.value = v
	b.mu.Unlock()
}

// Swap stores v and returns the previous value.
func (b *Box[T]) Swap(v T) T {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.value
	b.value = v
	return old
}

// Update applies fn to the value under the lock and stores the result.
// fn must not block or call back into the box.
func (b *Box[T]) Update(fn func(T) T) T {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = fn(b.value)
	return b.value
}

// SetIf stores v only when cond holds for the current value.
// It reports whether the value was stored.
func (b *Box[T]) SetIf(cond func(T) bool, v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !cond(b.value) {
		return false
	}
	b.value = v
	return true
}
