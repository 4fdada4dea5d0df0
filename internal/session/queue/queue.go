// Package queue provides the ordered single-consumer processor used for
// per-word hydration and other sequenced async work.
package queue

import "sync"

// Queue drains items in FIFO order with a single-flight drain loop. Items
// enqueued while a drain is running are consumed in the same cycle. A
// processor error is reported to onError and draining continues.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	draining bool

	process func(T) error
	onError func(T, error)
}

func New[T any](process func(T) error, onError func(T, error)) *Queue[T] {
	return &Queue[T]{process: process, onError: onError}
}

// Enqueue appends item and drains unless a drain is already in flight.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.drain()
}

func (q *Queue[T]) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.process(item); err != nil && q.onError != nil {
			q.onError(item, err)
		}
	}
}

// Len reports the number of items waiting to be processed.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset discards all pending items.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
