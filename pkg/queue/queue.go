package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

var (
	// ErrQueueFull is returned when a put would exceed the queue capacity
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when a non-blocking get finds no items
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrPutsBlocked is returned when the queue has been blocked for shutdown
	ErrPutsBlocked = errors.New("puts blocked on queue")
)

// Queue is a bounded FIFO queue with index-based manipulation helpers.
// All operations are safe for concurrent use.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	maxSize int
	blocked bool
	notify  chan struct{}
}

// NewQueue creates a queue bounded at maxSize. A maxSize of 0 means unbounded.
func NewQueue[T any](maxSize int) *Queue[T] {
	return &Queue[T]{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Block rejects all future puts, for when the queue should be shutting down
func (q *Queue[T]) Block() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.blocked = true
}

// Unblock allows puts again
func (q *Queue[T]) Unblock() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.blocked = false
}

// PutNowait appends an item without blocking
func (q *Queue[T]) PutNowait(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.blocked {
		return ErrPutsBlocked
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.signal()
	return nil
}

// GetNowait removes and returns the head item without blocking
func (q *Queue[T]) GetNowait() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, nil
}

// Get blocks until an item is available or the context is cancelled
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		item, err := q.GetNowait()
		if err == nil {
			return item, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// Size returns the number of items currently queued
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes and returns all queued items
func (q *Queue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Shuffle randomly permutes the queued items
func (q *Queue[T]) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// RemoveItem removes and returns the item at the given position.
// Positions start at 1 to match what users see in queue listings.
func (q *Queue[T]) RemoveItem(position int) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if position < 1 || position > len(q.items) {
		return zero, false
	}
	idx := position - 1
	item := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return item, true
}

// BumpItem moves the item at the given position to the front of the queue.
// Positions start at 1.
func (q *Queue[T]) BumpItem(position int) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if position < 1 || position > len(q.items) {
		return zero, false
	}
	idx := position - 1
	item := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.items = append([]T{item}, q.items...)
	return item, true
}

// Items returns a copy of all queued items in order
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, len(q.items))
	copy(items, q.items)
	return items
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
