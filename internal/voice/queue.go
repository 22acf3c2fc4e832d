package voice

import (
	"context"
	"sync"
)

type entry[T any] struct {
	v   T
	end bool
}

// Queue is an unbounded FIFO between one producer and one consumer. Close
// appends an end marker; Pop returns ok=false once it reaches the marker.
// Items pushed after the marker stay queued for Drain.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []entry[T]
	notify chan struct{}
}

// NewQueue returns an empty, open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push never blocks.
func (q *Queue[T]) Push(v T) { q.put(entry[T]{v: v}) }

// Close pushes the end marker. Closing twice queues two markers; the
// consumer stops at the first.
func (q *Queue[T]) Close() { q.put(entry[T]{end: true}) }

func (q *Queue[T]) put(e entry[T]) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an item or the end marker is available, or ctx is done.
// ok is false for the end marker and for cancellation.
func (q *Queue[T]) Pop(ctx context.Context) (v T, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			var zero entry[T]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			if e.end {
				return v, false
			}
			return e.v, true
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return v, false
		}
	}
}

// Drain discards everything queued and returns how many real items (not end
// markers) were dropped.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.items {
		if !e.end {
			n++
		}
	}
	q.items = nil
	return n
}

// Len counts queued entries including end markers.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
