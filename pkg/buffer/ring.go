package buffer

import "fmt"

// Ring is a fixed-capacity FIFO over a backing slice.
//
// All operations are O(1). Ring is not synchronized: per the concurrency
// model it is mutated only by the Manager, under the Manager's lock.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest item
	tail  int // index where the next item is stored
	size  int
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &Ring[T]{items: make([]T, capacity)}, nil
}

// Add appends an item. When the ring is full, the oldest item is evicted
// and returned so the caller can spill it to the disk tier.
func (r *Ring[T]) Add(item T) (evicted T, wasEvicted bool) {
	if r.size == len(r.items) {
		evicted = r.items[r.head]
		wasEvicted = true
		r.head = (r.head + 1) % len(r.items)
		r.size--
	}
	r.items[r.tail] = item
	r.tail = (r.tail + 1) % len(r.items)
	r.size++
	return evicted, wasEvicted
}

// Get removes and returns the oldest item.
func (r *Ring[T]) Get() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return item, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

// PushFront re-inserts an item at the head so it is dequeued next.
// Returns false when the ring is full.
func (r *Ring[T]) PushFront(item T) bool {
	if r.size == len(r.items) {
		return false
	}
	r.head = (r.head - 1 + len(r.items)) % len(r.items)
	r.items[r.head] = item
	r.size++
	return true
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Usage returns the fill ratio in [0,1].
func (r *Ring[T]) Usage() float64 {
	return float64(r.size) / float64(len(r.items))
}

// Head returns the index of the oldest item in the backing slice.
func (r *Ring[T]) Head() int { return r.head }

// Tail returns the index where the next item will be stored.
func (r *Ring[T]) Tail() int { return r.tail }
